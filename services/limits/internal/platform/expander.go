// services/limits/internal/platform/expander.go
package platform

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"motioncode-go/drivers/pca9539"
	"motioncode-go/services/limits/internal/halcore"
	"motioncode-go/x/timex"
)

const (
	// RetryPoll spaces reads while INT stays asserted or a read fails.
	RetryPoll = 2 * time.Millisecond
	// BackstopPoll reads the ports without INT activity.
	BackstopPoll = 250 * time.Millisecond
)

// Expander presents PCA9539 inputs as IRQ pins. The chip's INT line wakes
// a task-context reader which refreshes the cached ports and runs handlers
// for lines whose level changed. Get() reads the cache and is ISR-safe.
type Expander struct {
	dev    *pca9539.Device
	intPin halcore.IRQPin
	wake   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	handlers [pca9539.NumPins]func()
	edges    [pca9539.NumPins]halcore.Edge

	readErrs atomic.Uint32
}

func NewExpander(dev *pca9539.Device, intPin halcore.IRQPin) *Expander {
	return &Expander{
		dev:    dev,
		intPin: intPin,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Wait blocks until the reader started by Start has released the INT line.
func (e *Expander) Wait() { <-e.done }

// Start binds the INT line (active low, open drain) and runs the reader
// until ctx is done. The chip holds INT low until a read succeeds, so the
// reader keeps polling while INT is low or the last read failed. It also
// reads once on start for changes made before the line was bound.
func (e *Expander) Start(ctx context.Context) error {
	if err := e.intPin.ConfigureInput(halcore.PullUp); err != nil {
		return err
	}
	if err := e.intPin.SetIRQ(halcore.EdgeFalling, func() {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	go func() {
		defer close(e.done)
		defer e.intPin.ClearIRQ()
		retry := timex.NewStoppedTimer()
		defer retry.Stop()
		backstop := time.NewTicker(BackstopPoll)
		defer backstop.Stop()
		for {
			if err := e.Poll(); err != nil || !e.intPin.Get() {
				timex.ResetTimer(retry, RetryPoll)
			}
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			case <-retry.C:
			case <-backstop.C:
			}
		}
	}()
	return nil
}

// Poll reads the input ports and dispatches handlers for changed lines.
func (e *Expander) Poll() error {
	prev := e.dev.Cached()
	cur, err := e.dev.ReadInputs()
	if err != nil {
		e.readErrs.Add(1)
		return err
	}
	changed := prev ^ cur
	if changed == 0 {
		return nil
	}
	var run [pca9539.NumPins]func()
	e.mu.Lock()
	for i := 0; i < pca9539.NumPins; i++ {
		bit := uint16(1) << uint(i)
		if changed&bit == 0 || e.handlers[i] == nil {
			continue
		}
		edge := halcore.EdgeFalling
		if cur&bit != 0 {
			edge = halcore.EdgeRising
		}
		if e.edges[i] == halcore.EdgeBoth || e.edges[i] == edge {
			run[i] = e.handlers[i]
		}
	}
	e.mu.Unlock()
	for _, h := range run {
		if h != nil {
			h()
		}
	}
	return nil
}

// ReadErrors counts failed port reads.
func (e *Expander) ReadErrors() uint32 { return e.readErrs.Load() }

// ByNumber returns input line n (0..15).
func (e *Expander) ByNumber(n int) (halcore.GPIOPin, bool) {
	if n < 0 || n >= pca9539.NumPins {
		return nil, false
	}
	return &expanderPin{e: e, n: n}, true
}

type expanderPin struct {
	e *Expander
	n int
}

// ConfigureInput is a no-op: the PCA9539 has no internal pulls.
func (p *expanderPin) ConfigureInput(halcore.Pull) error { return nil }

func (p *expanderPin) Get() bool {
	v, _ := p.e.dev.Pin(p.n)
	return v
}

func (p *expanderPin) Number() int { return p.n }

func (p *expanderPin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.e.mu.Lock()
	p.e.edges[p.n] = edge
	p.e.handlers[p.n] = handler
	p.e.mu.Unlock()
	return nil
}

func (p *expanderPin) ClearIRQ() error {
	p.e.mu.Lock()
	p.e.edges[p.n] = halcore.EdgeNone
	p.e.handlers[p.n] = nil
	p.e.mu.Unlock()
	return nil
}
