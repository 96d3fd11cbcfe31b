// services/limits/internal/platform/fakepin.go
package platform

import (
	"sync"

	"motioncode-go/services/limits/internal/halcore"

	"tinygo.org/x/drivers"
)

// FakePin implements IRQPin for host runs and tests. Set fires the IRQ
// handler synchronously on a matching edge, as a GPIO interrupt would.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	pull    halcore.Pull
	irqEdge halcore.Edge
	irqFunc func()
}

func NewFakePin(n int) *FakePin { return &FakePin{number: n} }

// ConfigureInput applies the pull as the idle level.
func (p *FakePin) ConfigureInput(pull halcore.Pull) error {
	p.mu.Lock()
	p.pull = pull
	switch pull {
	case halcore.PullUp:
		p.level = true
	case halcore.PullDown:
		p.level = false
	}
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	want := irqWanted(p.irqEdge, edgeFrom(old, level))
	irq := p.irqFunc
	p.mu.Unlock()
	if want && irq != nil {
		irq()
	}
}

// Glitch drives a pulse of the given level and returns to the previous one.
func (p *FakePin) Glitch(level bool) {
	prev := p.Get()
	p.Set(level)
	p.Set(prev)
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = halcore.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

// HasIRQ reports whether a handler is bound.
func (p *FakePin) HasIRQ() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.irqFunc != nil
}

func edgeFrom(old, new bool) halcore.Edge {
	switch {
	case !old && new:
		return halcore.EdgeRising
	case old && !new:
		return halcore.EdgeFalling
	default:
		return halcore.EdgeNone
	}
}

func irqWanted(cfg, seen halcore.Edge) bool {
	if seen == halcore.EdgeNone {
		return false
	}
	return cfg == halcore.EdgeBoth || cfg == seen
}

// FakePinFactory returns stable *FakePin instances per number.
type FakePinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func NewFakePinFactory() *FakePinFactory {
	return &FakePinFactory{pins: make(map[int]*FakePin)}
}

func (f *FakePinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	return f.Pin(n), true
}

// Pin returns the *FakePin for n, creating it on first use.
func (f *FakePinFactory) Pin(n int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		p = NewFakePin(n)
		f.pins[n] = p
	}
	return p
}

// ----------------------------- I²C (host) ------------------------------------

// FakeI2C is an inert drivers.I2C: writes are recorded, reads return Fill.
type FakeI2C struct {
	mu     sync.Mutex
	Fill   []byte
	Writes [][]byte
}

func (h *FakeI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(w) > 0 {
		h.Writes = append(h.Writes, append([]byte(nil), w...))
	}
	for i := range r {
		if i < len(h.Fill) {
			r[i] = h.Fill[i]
		} else {
			r[i] = 0
		}
	}
	return nil
}

// SetFill replaces the bytes returned by reads.
func (h *FakeI2C) SetFill(b ...byte) {
	h.mu.Lock()
	h.Fill = append([]byte(nil), b...)
	h.mu.Unlock()
}

type mapI2CFactory struct {
	buses map[string]drivers.I2C
}

func (f mapI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// I2CFactoryOf wraps fixed buses keyed by id.
func I2CFactoryOf(buses map[string]drivers.I2C) halcore.I2CBusFactory {
	return mapI2CFactory{buses: buses}
}
