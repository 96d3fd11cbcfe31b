// services/limits/internal/platform/factories_linux.go
//go:build linux && (arm || arm64) && !(rp2040 || rp2350)

package platform

import (
	"strconv"
	"sync"
	"time"

	"motioncode-go/services/limits/internal/halcore"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() { _, hostErr = host.Init() })
	return hostErr
}

// DefaultI2CFactory opens the board's default bus as "i2c0" and bus 1 as "i2c1".
// periph's i2c.Bus has the same Tx shape as drivers.I2C.
func DefaultI2CFactory() halcore.I2CBusFactory {
	buses := map[string]drivers.I2C{}
	if initHost() != nil {
		return I2CFactoryOf(buses)
	}
	if b, err := i2creg.Open(""); err == nil {
		buses["i2c0"] = b
	}
	if b, err := i2creg.Open("1"); err == nil {
		buses["i2c1"] = b
	}
	return I2CFactoryOf(buses)
}

// DefaultPinFactory maps logical number n to the SoC line "GPIO<n>".
func DefaultPinFactory() halcore.PinFactory {
	if initHost() != nil {
		return noPinFactory{}
	}
	return periphPinFactory{}
}

type noPinFactory struct{}

func (noPinFactory) ByNumber(int) (halcore.GPIOPin, bool) { return nil, false }

type periphPinFactory struct{}

func (periphPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	p := gpioreg.ByName("GPIO" + strconv.Itoa(n))
	if p == nil {
		return nil, false
	}
	return &periphPin{p: p, n: n}, true
}

// periphPin emulates an edge interrupt with a goroutine blocked in
// WaitForEdge; the handler therefore runs in a normal goroutine.
type periphPin struct {
	p    gpio.PinIO
	n    int
	pull gpio.Pull

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (r *periphPin) ConfigureInput(pull halcore.Pull) error {
	r.pull = toPeriphPull(pull)
	return r.p.In(r.pull, gpio.NoEdge)
}

func (r *periphPin) Get() bool   { return r.p.Read() == gpio.High }
func (r *periphPin) Number() int { return r.n }

func (r *periphPin) SetIRQ(edge halcore.Edge, handler func()) error {
	if err := r.ClearIRQ(); err != nil {
		return err
	}
	if err := r.p.In(r.pull, toPeriphEdge(edge)); err != nil {
		return err
	}
	r.mu.Lock()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if r.p.WaitForEdge(100 * time.Millisecond) {
				handler()
			}
		}
	}()
	return nil
}

func (r *periphPin) ClearIRQ() error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return r.p.In(r.pull, gpio.NoEdge)
}

func toPeriphPull(p halcore.Pull) gpio.Pull {
	switch p {
	case halcore.PullUp:
		return gpio.PullUp
	case halcore.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func toPeriphEdge(e halcore.Edge) gpio.Edge {
	switch e {
	case halcore.EdgeRising:
		return gpio.RisingEdge
	case halcore.EdgeFalling:
		return gpio.FallingEdge
	case halcore.EdgeBoth:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
