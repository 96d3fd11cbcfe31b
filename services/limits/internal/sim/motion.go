// Package sim is a kinematic stand-in for the motion engine. It moves
// axes at their feed rates in scaled time, drives fake switch pins as
// axes cross them, and records moves and switch contacts.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/services/limits/internal/platform"
)

// Switch is a physical limit switch on one axis. It is asserted when the
// axis is at or beyond At in the direction of Positive.
type Switch struct {
	Axis      int
	At        float64
	Positive  bool
	Pin       *platform.FakePin
	ActiveLow bool
}

func (s *Switch) asserted(phys float64) bool {
	if s.Positive {
		return phys >= s.At
	}
	return phys <= s.At
}

// MoveRecord describes one accepted Move call, in machine coordinates.
type MoveRecord struct {
	Axes   cnc.AxisMask
	From   []float64
	Target []float64
	Rate   float64
}

// Contact records a switch transitioning to asserted.
type Contact struct {
	Axis int
	Pos  float64 // machine coordinate at contact
}

type move struct {
	axes    cnc.AxisMask
	target  []float64 // physical
	vel     []float64 // mm/s per axis, signed
	stopped cnc.AxisMask
	done    chan struct{}
}

// Motion simulates n axes.
type Motion struct {
	n     int
	tick  time.Duration
	scale float64 // simulated seconds per real second

	mu       sync.Mutex
	phys     []float64
	offset   []float64
	switches []*Switch
	active   *move
	moves    []MoveRecord
	contacts []Contact
}

type Option func(*Motion)

// WithTiming sets the step period and time scale.
func WithTiming(tick time.Duration, scale float64) Option {
	return func(m *Motion) {
		if tick > 0 {
			m.tick = tick
		}
		if scale > 0 {
			m.scale = scale
		}
	}
}

// DefaultTick is the step period unless WithTiming overrides it.
const DefaultTick = time.Millisecond

// New creates a simulator with every axis at physical zero.
func New(n int, opts ...Option) *Motion {
	m := &Motion{
		n:      n,
		tick:   DefaultTick,
		scale:  10,
		phys:   make([]float64, n),
		offset: make([]float64, n),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddSwitch attaches a switch and drives its pin to the current level.
func (m *Motion) AddSwitch(s Switch) {
	m.mu.Lock()
	m.switches = append(m.switches, &s)
	level := s.asserted(m.phys[s.Axis]) != s.ActiveLow
	m.mu.Unlock()
	s.Pin.Set(level)
}

// Place sets the physical position of an axis and refreshes switches.
func (m *Motion) Place(axis int, phys float64) {
	m.mu.Lock()
	m.phys[axis] = phys
	m.mu.Unlock()
	m.refresh()
}

// Start runs the step loop until ctx is done.
func (m *Motion) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(m.tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				m.Stop()
				return
			case <-t.C:
				m.step(m.tick.Seconds() * m.scale)
			}
		}
	}()
}

func (m *Motion) step(dt float64) {
	m.mu.Lock()
	mv := m.active
	if mv == nil {
		m.mu.Unlock()
		return
	}
	finished := true
	for _, a := range mv.axes.Minus(mv.stopped).Axes() {
		next := m.phys[a] + mv.vel[a]*dt
		if (mv.vel[a] > 0 && next >= mv.target[a]) || (mv.vel[a] < 0 && next <= mv.target[a]) || mv.vel[a] == 0 {
			next = mv.target[a]
		} else {
			finished = false
		}
		m.phys[a] = next
	}
	if finished {
		m.finishLocked()
	}
	m.mu.Unlock()
	m.refresh()
}

// refresh drives switch pins outside the lock; pin edges run the ISR.
func (m *Motion) refresh() {
	type pinLevel struct {
		pin   *platform.FakePin
		level bool
	}
	var sets []pinLevel
	m.mu.Lock()
	for _, s := range m.switches {
		on := s.asserted(m.phys[s.Axis])
		level := on != s.ActiveLow
		if s.Pin.Get() == level {
			continue
		}
		if on {
			m.contacts = append(m.contacts, Contact{Axis: s.Axis, Pos: m.phys[s.Axis] + m.offset[s.Axis]})
		}
		sets = append(sets, pinLevel{s.Pin, level})
	}
	m.mu.Unlock()
	for _, pl := range sets {
		pl.pin.Set(pl.level)
	}
}

func (m *Motion) finishLocked() {
	if m.active == nil {
		return
	}
	close(m.active.done)
	m.active = nil
}

// Move starts a linear move of axes to target (machine coordinates) at
// feedRate mm/min. The returned channel closes when the move ends.
func (m *Motion) Move(axes cnc.AxisMask, target []float64, feedRate float64) (<-chan struct{}, error) {
	axes = axes.Limit(m.n)
	if len(target) < m.n || feedRate <= 0 || axes.Empty() {
		return nil, errcode.New(errcode.InvalidParams, "move", "bad target or rate")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, errcode.New(errcode.Busy, "move", "already moving")
	}

	mv := &move{
		axes:   axes,
		target: make([]float64, m.n),
		vel:    make([]float64, m.n),
		done:   make(chan struct{}),
	}
	from := make([]float64, m.n)
	var dist float64
	for i := 0; i < m.n; i++ {
		from[i] = m.phys[i] + m.offset[i]
		mv.target[i] = m.phys[i]
		if axes.Has(i) {
			mv.target[i] = target[i] - m.offset[i]
			d := mv.target[i] - m.phys[i]
			dist += d * d
		}
	}
	dist = math.Sqrt(dist)
	speed := feedRate / 60
	for _, a := range axes.Axes() {
		if dist > 0 {
			mv.vel[a] = speed * (mv.target[a] - m.phys[a]) / dist
		}
	}
	m.moves = append(m.moves, MoveRecord{
		Axes:   axes,
		From:   from,
		Target: append([]float64(nil), target[:m.n]...),
		Rate:   feedRate,
	})
	m.active = mv
	if dist == 0 {
		m.finishLocked()
	}
	return mv.done, nil
}

// StopAxes halts the given axes of the active move. The move ends when
// no moving axis remains.
func (m *Motion) StopAxes(axes cnc.AxisMask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.active.stopped = m.active.stopped.Union(axes)
	if m.active.axes.Minus(m.active.stopped).Empty() {
		m.finishLocked()
	}
}

func (m *Motion) Stop() {
	m.mu.Lock()
	m.finishLocked()
	m.mu.Unlock()
}

func (m *Motion) Moving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Position returns machine coordinates.
func (m *Motion) Position() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, m.n)
	for i := range out {
		out[i] = m.phys[i] + m.offset[i]
	}
	return out
}

// SetPosition redefines the machine coordinate of an axis in place.
func (m *Motion) SetPosition(axis int, pos float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if axis < 0 || axis >= m.n {
		return
	}
	m.offset[axis] = pos - m.phys[axis]
}

// Physical returns the true position of an axis.
func (m *Motion) Physical(axis int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phys[axis]
}

func (m *Motion) Moves() []MoveRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MoveRecord(nil), m.moves...)
}

func (m *Motion) Contacts() []Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Contact(nil), m.contacts...)
}

// Reset forgets recorded moves and contacts.
func (m *Motion) Reset() {
	m.mu.Lock()
	m.moves, m.contacts = nil, nil
	m.mu.Unlock()
}
