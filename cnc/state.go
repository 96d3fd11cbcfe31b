package cnc

import (
	"sync"

	"motioncode-go/errcode"
)

// Mode is the top-level machine mode.
type Mode uint8

const (
	Idle Mode = iota
	Alarm
	Homing
	Cycle
	Hold
	Jog
	Sleep
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Alarm:
		return "alarm"
	case Homing:
		return "homing"
	case Cycle:
		return "cycle"
	case Hold:
		return "hold"
	case Jog:
		return "jog"
	case Sleep:
		return "sleep"
	}
	return "unknown"
}

// AlarmCode uses the controller's published alarm numbering.
type AlarmCode uint8

const (
	AlarmNone               AlarmCode = 0
	AlarmHardLimit          AlarmCode = 1
	AlarmSoftLimit          AlarmCode = 2
	AlarmAbortCycle         AlarmCode = 3
	AlarmHomingFailReset    AlarmCode = 6
	AlarmHomingFailPulloff  AlarmCode = 8
	AlarmHomingFailApproach AlarmCode = 9
)

func (a AlarmCode) String() string {
	switch a {
	case AlarmNone:
		return "none"
	case AlarmHardLimit:
		return "hard_limit"
	case AlarmSoftLimit:
		return "soft_limit"
	case AlarmAbortCycle:
		return "abort_cycle"
	case AlarmHomingFailReset:
		return "homing_fail_reset"
	case AlarmHomingFailPulloff:
		return "homing_fail_pulloff"
	case AlarmHomingFailApproach:
		return "homing_fail_approach"
	}
	return "unknown"
}

// Snapshot is a consistent copy of the state register.
type Snapshot struct {
	Mode      Mode
	Alarm     AlarmCode
	AlarmAxes AxisMask
	Seq       uint32 // increments on every transition
}

// allowed lists ordinary transitions. Entry into Alarm goes through
// State.Alarm and exit through State.Unlock.
var allowed = map[Mode][]Mode{
	Idle:   {Cycle, Jog, Homing, Sleep},
	Cycle:  {Idle, Hold},
	Jog:    {Idle, Hold},
	Hold:   {Cycle, Idle},
	Homing: {Idle},
	Alarm:  {Homing},
	Sleep:  {Idle},
}

// State is the shared machine-state register. It is never touched from
// interrupt context.
type State struct {
	mu      sync.Mutex
	mode    Mode
	alarm   AlarmCode
	axes    AxisMask
	seq     uint32
	changed chan struct{}
}

// NewState returns a register in Idle.
func NewState() *State {
	return &State{changed: make(chan struct{})}
}

// NewStateAlarmed returns a register that starts in Alarm, as a machine
// that must be homed before use does.
func NewStateAlarmed(code AlarmCode) *State {
	s := NewState()
	s.mode, s.alarm = Alarm, code
	return s
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Mode: s.mode, Alarm: s.alarm, AlarmAxes: s.axes, Seq: s.seq}
}

func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Changed returns a channel closed at the next transition.
func (s *State) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Busy reports whether the mode implies axes may be moving.
func (m Mode) Busy() bool {
	return m == Cycle || m == Jog || m == Hold || m == Homing
}

// Transition moves to an ordinary mode per the transition table.
func (s *State) Transition(to Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *State) transitionLocked(to Mode) error {
	if s.mode == to {
		return nil
	}
	for _, m := range allowed[s.mode] {
		if m == to {
			s.setLocked(to)
			return nil
		}
	}
	return &errcode.E{C: errcode.InvalidTransition, Op: "state", Msg: s.mode.String() + " -> " + to.String()}
}

func (s *State) setLocked(to Mode) {
	s.mode = to
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Alarm enters Alarm from any mode and records the cause. While already
// alarmed the first cause is kept and raised is false.
func (s *State) Alarm(code AlarmCode, axes AxisMask) (raised bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == Alarm {
		return false
	}
	s.alarm, s.axes = code, axes
	s.setLocked(Alarm)
	return true
}

// Unlock clears an alarm without homing. No-op outside Alarm.
func (s *State) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Alarm {
		return
	}
	s.alarm, s.axes = AlarmNone, 0
	s.setLocked(Idle)
}

// BeginHoming enters Homing from Idle or Alarm. The returned channel is
// closed at the next transition out of Homing, so a cycle holding it
// cannot miss an alarm raised after entry.
func (s *State) BeginHoming() (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case Idle, Alarm:
	default:
		return nil, &errcode.E{C: errcode.Busy, Op: "home", Msg: "machine is " + s.mode.String()}
	}
	s.alarm, s.axes = AlarmNone, 0
	if err := s.transitionLocked(Homing); err != nil {
		return nil, err
	}
	return s.changed, nil
}

// CommitHoming runs commit and returns to Idle, both under the register
// lock. If the cycle has already left Homing commit is not run.
func (s *State) CommitHoming(commit func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Homing {
		return &errcode.E{C: errcode.InvalidTransition, Op: "home", Msg: s.mode.String() + " -> idle"}
	}
	commit()
	return s.transitionLocked(Idle)
}
