// services/limits/limits.go
package limits

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/services/limits/internal/halcore"
	"motioncode-go/services/limits/internal/platform"
	"motioncode-go/x/mailbox"
)

// boundSwitch is one switch with its IRQ bound. Read from the ISR.
type boundSwitch struct {
	pin       halcore.IRQPin
	axis      cnc.AxisMask // single bit
	gang      int
	activeLow bool
	hard      bool
}

// Limits owns the hard-limit monitor, the soft-limit checker and the
// homing orchestrator for one machine.
type Limits struct {
	set   *Settings
	state *cnc.State
	mo    Motion
	log   *slog.Logger

	pins      halcore.PinFactory
	expanders map[string]halcore.PinFactory

	// Fixed storage so the ISR loop never allocates.
	sw  [cnc.MaxAxes * cnc.MaxGangs]boundSwitch
	nsw atomic.Int32 // published after the slot is filled

	armed   atomic.Uint32 // AxisMask the ISR may report
	enabled atomic.Bool   // administrative hard-limit switch
	owned   atomic.Uint32 // axes under homing authority
	softOff atomic.Uint32 // axes exempt from soft limits while homing
	homed   atomic.Uint32

	box     *mailbox.Word                // ISR -> check task
	homeBox atomic.Pointer[mailbox.Word] // ISR -> homing, nil when idle
	isrRuns atomic.Uint32
	trips   atomic.Uint32
	bounces atomic.Uint32

	homingMu sync.Mutex
	changed  chan struct{} // cap 1

	mu      sync.Mutex
	started bool
	stop    context.CancelFunc
	done    chan struct{}
}

type Option func(*Limits)

func WithLogger(l *slog.Logger) Option {
	return func(x *Limits) {
		if l != nil {
			x.log = l
		}
	}
}

// WithPins sets the factory for MCU GPIO switches.
func WithPins(f halcore.PinFactory) Option {
	return func(x *Limits) { x.pins = f }
}

// WithExpander registers a pin source for switches naming expander id.
func WithExpander(id string, f halcore.PinFactory) Option {
	return func(x *Limits) { x.expanders[id] = f }
}

// New wires the subsystem. Nothing touches hardware until Init.
func New(set *Settings, state *cnc.State, mo Motion, opts ...Option) *Limits {
	l := &Limits{
		set:       set,
		state:     state,
		mo:        mo,
		log:       slog.Default(),
		expanders: map[string]halcore.PinFactory{},
		box:       mailbox.New(),
		changed:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	if l.pins == nil {
		l.pins = platform.DefaultPinFactory()
	}
	l.log = l.log.With("svc", "limits")
	return l
}

func (l *Limits) Settings() *Settings { return l.set }

// Init binds the ISR to every defined switch and starts the check task.
// Hard limits are armed when enabled in settings.
func (l *Limits) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return &errcode.E{C: errcode.Busy, Op: "init", Msg: "already initialised"}
	}

	var errs error
	for i := range l.set.Axes {
		a := &l.set.Axes[i]
		for g := 0; g < cnc.MaxGangs; g++ {
			if !a.Gangs[g].Defined {
				continue
			}
			errs = multierr.Append(errs, l.bind(a, g))
		}
	}
	if errs != nil {
		l.unbindLocked()
		return &errcode.E{C: errcode.ConfigError, Op: "init", Err: errs}
	}

	cctx, cancel := context.WithCancel(ctx)
	l.stop, l.done, l.started = cancel, make(chan struct{}), true
	go l.checkTask(cctx, l.done)

	if l.set.HardLimits {
		l.Enable()
	}
	l.log.Info("limits initialised",
		"switches", l.nsw.Load(),
		"hard", l.set.HardLimitAxes().String(),
		"homing", l.set.HomingAxes().String(),
		"debounce", l.set.Debounce)
	return nil
}

func (l *Limits) bind(a *Axis, g int) error {
	gang := a.Gangs[g]
	src := l.pins
	if gang.Expander != "" {
		src = l.expanders[gang.Expander]
		if src == nil {
			return &errcode.E{C: errcode.UnknownBus, Op: "bind", Msg: "expander " + gang.Expander + " not started"}
		}
	}
	p, ok := src.ByNumber(gang.Pin)
	if !ok {
		return &errcode.E{C: errcode.UnknownPin, Op: "bind", Msg: string(a.Name) + " gang " + strconv.Itoa(g)}
	}
	irq, ok := p.(halcore.IRQPin)
	if !ok {
		return &errcode.E{C: errcode.Unsupported, Op: "bind", Msg: "pin " + strconv.Itoa(gang.Pin) + " has no IRQ"}
	}
	if err := irq.ConfigureInput(gang.Pull); err != nil {
		return errcode.Wrap(errcode.UnknownPin, "bind", err)
	}
	n := l.nsw.Load()
	l.sw[n] = boundSwitch{
		pin:       irq,
		axis:      cnc.MaskOf(a.Index),
		gang:      g,
		activeLow: gang.ActiveLow,
		hard:      gang.HardLimits,
	}
	l.nsw.Store(n + 1)
	if err := irq.SetIRQ(halcore.EdgeBoth, l.isr); err != nil {
		l.nsw.Store(n)
		return errcode.Wrap(errcode.PinInUse, "bind", err)
	}
	l.log.Debug("switch bound", "axis", string(a.Name), "gang", g, "pin", gang.Pin, "expander", gang.Expander, "edge", halcore.EdgeBoth)
	return nil
}

func (l *Limits) unbindLocked() error {
	n := int(l.nsw.Swap(0))
	var errs error
	for i := 0; i < n; i++ {
		errs = multierr.Append(errs, l.sw[i].pin.ClearIRQ())
	}
	return errs
}

// Close disarms, unbinds every IRQ and stops the check task.
func (l *Limits) Close() error {
	l.Disable()
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.unbindLocked()
	if l.started {
		l.stop()
		<-l.done
		l.started = false
	}
	return err
}

// Enable arms hard limits on every hard-limit axis not owned by homing,
// discarding any trigger latched while disarmed.
func (l *Limits) Enable() {
	l.enabled.Store(true)
	l.box.Clear()
	l.rearm()
	l.notify()
}

// Disable disarms hard limits. The check task keeps running.
func (l *Limits) Disable() {
	l.enabled.Store(false)
	l.armed.Store(0)
	l.box.Clear()
	l.notify()
}

func (l *Limits) rearm() {
	if !l.enabled.Load() {
		l.armed.Store(0)
		return
	}
	m := l.set.HardLimitAxes().Minus(cnc.AxisMask(l.owned.Load()))
	l.armed.Store(uint32(m))
}

// Halt stops all motion. If axes may have been moving their position is
// no longer trusted and AbortCycle is raised.
func (l *Limits) Halt() {
	mode := l.state.Mode()
	moving := l.mo.Moving()
	l.mo.Stop()
	if moving || mode.Busy() {
		l.state.Alarm(cnc.AlarmAbortCycle, 0)
		l.log.Warn("motion halted", "mode", mode.String())
	}
}

// Armed is the mask of axes the ISR currently reports.
func (l *Limits) Armed() cnc.AxisMask { return cnc.AxisMask(l.armed.Load()) }

// Enabled reports the administrative hard-limit setting.
func (l *Limits) Enabled() bool { return l.enabled.Load() }

// State returns the axes with at least one asserted switch.
func (l *Limits) State() cnc.AxisMask {
	all, _ := l.sample()
	return all
}

// GangState returns asserted axes per gang.
func (l *Limits) GangState() [cnc.MaxGangs]cnc.AxisMask {
	var out [cnc.MaxGangs]cnc.AxisMask
	n := int(l.nsw.Load())
	for i := 0; i < n; i++ {
		s := &l.sw[i]
		if s.pin.Get() != s.activeLow {
			out[s.gang] |= s.axis
		}
	}
	return out
}

// Position is the machine position reported by the motion engine.
func (l *Limits) Position() []float64 { return l.mo.Position() }

// Homed lists axes homed since their last homing failure.
func (l *Limits) Homed() cnc.AxisMask { return cnc.AxisMask(l.homed.Load()) }

// Changed fires after switch, arming or homed state may have changed.
func (l *Limits) Changed() <-chan struct{} { return l.changed }

func (l *Limits) notify() {
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

// Stats are diagnostic counters since Init.
type Stats struct {
	ISR     uint32 // handler invocations
	Posts   uint32 // non-empty reports handed to the check task
	Trips   uint32 // confirmed hard-limit trips
	Bounces uint32 // reports filtered by debounce
}

func (l *Limits) Stats() Stats {
	return Stats{
		ISR:     l.isrRuns.Load(),
		Posts:   l.box.Posts(),
		Trips:   l.trips.Load(),
		Bounces: l.bounces.Load(),
	}
}
