// services/limits/settings.go
package limits

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/services/limits/internal/halcore"
	"motioncode-go/types"
	"motioncode-go/x/mathx"
)

// Defaults applied when the machine config leaves a value unset.
const (
	DefaultDebounce     = 10 * time.Millisecond
	DefaultLocateCycles = 1
	DefaultSeekScaler   = 1.1

	// locateScale sizes the locate travel as a multiple of the pull-off.
	locateScale = 5.0
)

// Gang is one resolved switch binding.
type Gang struct {
	Defined    bool
	Pin        int
	Expander   string // empty for MCU GPIO
	ActiveLow  bool
	Pull       halcore.Pull
	HardLimits bool
}

// Axis holds resolved per-axis settings.
type Axis struct {
	Index     int
	Name      byte
	MaxTravel float64

	Homing      bool
	PositiveDir bool
	MPos        float64
	SeekRate    float64
	FeedRate    float64
	PullOff     float64
	SeekScaler  float64

	Gangs [cnc.MaxGangs]Gang
}

// dir is +1 when homing toward the positive end, -1 otherwise.
func (a *Axis) dir() float64 {
	if a.PositiveDir {
		return 1
	}
	return -1
}

// Settings is the validated, read-only view of the machine config.
type Settings struct {
	Axes         []Axis
	HardLimits   bool
	SoftLimits   bool
	Debounce     time.Duration
	LocateCycles int
	Cycles       []cnc.AxisMask
	InitLock     bool
	Expanders    []types.ExpanderConfig
}

// NewSettings resolves defaults and validates cfg. Every problem found is
// reported, combined into one error carrying errcode.ConfigError.
func NewSettings(cfg types.MachineConfig) (*Settings, error) {
	var errs error
	n := len(cfg.Axes)
	if n == 0 || n > cnc.MaxAxes {
		return nil, &errcode.E{C: errcode.ConfigError, Op: "settings", Msg: "axis count " + strconv.Itoa(n) + " out of range"}
	}

	s := &Settings{
		Axes:         make([]Axis, n),
		HardLimits:   cfg.Limits.HardLimits,
		SoftLimits:   cfg.Limits.SoftLimits,
		Debounce:     DefaultDebounce,
		LocateCycles: DefaultLocateCycles,
		InitLock:     cfg.Limits.InitLock,
		Expanders:    cfg.Expanders,
	}
	if d := cfg.Limits.DebounceMS; d != nil {
		if *d < 0 {
			errs = multierr.Append(errs, errors.New("limits.debounce_ms must be >= 0"))
		} else {
			s.Debounce = time.Duration(*d) * time.Millisecond
		}
	}
	if k := cfg.Limits.LocateCycles; k != nil {
		if *k < 0 {
			errs = multierr.Append(errs, errors.New("limits.locate_cycles must be >= 0"))
		} else {
			s.LocateCycles = *k
		}
	}

	expanders := map[string]bool{}
	for _, e := range cfg.Expanders {
		expanders[e.ID] = true
	}

	for i, ac := range cfg.Axes {
		a, err := resolveAxis(i, ac, expanders)
		errs = multierr.Append(errs, err)
		s.Axes[i] = a
	}

	for _, c := range cfg.Limits.Cycles {
		m, ok := cnc.ParseMask(c, n)
		if !ok || m.Empty() {
			errs = multierr.Append(errs, errors.Errorf("homing cycle %q names unknown axes", c))
			continue
		}
		if miss := m.Minus(s.HomingAxes()); !miss.Empty() {
			errs = multierr.Append(errs, errors.Errorf("homing cycle %q includes axes %s without a homing switch", c, miss))
			continue
		}
		s.Cycles = append(s.Cycles, m)
	}

	if errs != nil {
		return nil, &errcode.E{C: errcode.ConfigError, Op: "settings", Err: errs}
	}
	return s, nil
}

func resolveAxis(i int, ac types.AxisConfig, expanders map[string]bool) (Axis, error) {
	var errs error
	a := Axis{Index: i, Name: cnc.AxisLetter(i), MaxTravel: ac.MaxTravel}
	if ac.Name != "" && (len(ac.Name) != 1 || cnc.AxisIndex(ac.Name[0]) != i) {
		errs = multierr.Append(errs, errors.Errorf("axis %d: name %q does not match position", i, ac.Name))
	}
	name := string(a.Name)
	if ac.MaxTravel < 0 {
		errs = multierr.Append(errs, errors.Errorf("axis %s: max_travel_mm must be >= 0", name))
	}
	if len(ac.Gangs) > cnc.MaxGangs {
		errs = multierr.Append(errs, errors.Errorf("axis %s: at most %d gangs", name, cnc.MaxGangs))
	}

	for g := 0; g < len(ac.Gangs) && g < cnc.MaxGangs; g++ {
		gc := ac.Gangs[g]
		if gc.Pin == nil {
			continue
		}
		pull, ok := halcore.ParsePull(gc.Pull)
		if !ok {
			errs = multierr.Append(errs, errors.Errorf("axis %s gang %d: unknown pull %q", name, g, gc.Pull))
		}
		if gc.Expander != "" && !expanders[gc.Expander] {
			errs = multierr.Append(errs, errors.Errorf("axis %s gang %d: unknown expander %q", name, g, gc.Expander))
		}
		a.Gangs[g] = Gang{
			Defined:    true,
			Pin:        *gc.Pin,
			Expander:   gc.Expander,
			ActiveLow:  gc.ActiveLow,
			Pull:       pull,
			HardLimits: gc.HardLimits == nil || *gc.HardLimits,
		}
	}

	if h := ac.Homing; h != nil {
		a.Homing = true
		a.PositiveDir = h.PositiveDirection
		a.SeekRate, a.FeedRate, a.PullOff = h.SeekRate, h.FeedRate, h.PullOff
		a.SeekScaler = h.SeekScaler
		if a.SeekScaler == 0 {
			a.SeekScaler = DefaultSeekScaler
		}
		a.MPos = a.dir() * a.MaxTravel
		if h.MPos != nil {
			a.MPos = *h.MPos
		}
		if a.SeekRate <= 0 || a.FeedRate <= 0 {
			errs = multierr.Append(errs, errors.Errorf("axis %s: homing rates must be > 0", name))
		}
		if a.PullOff <= 0 {
			errs = multierr.Append(errs, errors.Errorf("axis %s: pulloff_mm must be > 0", name))
		}
		if a.SeekScaler < 1 {
			errs = multierr.Append(errs, errors.Errorf("axis %s: seek_scaler must be >= 1", name))
		}
		if a.MaxTravel == 0 {
			errs = multierr.Append(errs, errors.Errorf("axis %s: homing needs max_travel_mm > 0", name))
		} else if !bandOf(&a).Contains(a.MPos) {
			errs = multierr.Append(errs, errors.Errorf("axis %s: mpos_mm outside travel", name))
		}
	}
	return a, errs
}

// bandOf returns the permitted machine range: [0, L] when homing toward
// the positive end, [-L, 0] otherwise.
func bandOf(a *Axis) mathx.Band[float64] {
	if a.PositiveDir {
		return mathx.BandOf(0, a.MaxTravel)
	}
	return mathx.BandOf(-a.MaxTravel, 0)
}

// NumAxes is the configured axis count.
func (s *Settings) NumAxes() int { return len(s.Axes) }

// SwitchDefined reports whether (axis, gang) has a bound switch.
// Out-of-range indices report false.
func (s *Settings) SwitchDefined(axis, gang int) bool {
	if axis < 0 || axis >= len(s.Axes) || gang < 0 || gang >= cnc.MaxGangs {
		return false
	}
	return s.Axes[axis].Gangs[gang].Defined
}

// hasSwitch reports whether any gang of axis is defined.
func (s *Settings) hasSwitch(axis int) bool {
	for g := 0; g < cnc.MaxGangs; g++ {
		if s.SwitchDefined(axis, g) {
			return true
		}
	}
	return false
}

// HomingAxes lists axes with at least one switch and homing settings.
func (s *Settings) HomingAxes() cnc.AxisMask {
	var m cnc.AxisMask
	for i := range s.Axes {
		if s.Axes[i].Homing && s.hasSwitch(i) {
			m = m.With(i)
		}
	}
	return m
}

// HardLimitAxes lists axes with at least one hard-limit switch.
func (s *Settings) HardLimitAxes() cnc.AxisMask {
	var m cnc.AxisMask
	for i := range s.Axes {
		for _, g := range s.Axes[i].Gangs {
			if g.Defined && g.HardLimits {
				m = m.With(i)
				break
			}
		}
	}
	return m
}

// MaxPosition is the upper soft-limit edge. Out-of-range axes report 0.
func (s *Settings) MaxPosition(axis int) float64 {
	if axis < 0 || axis >= len(s.Axes) {
		return 0
	}
	return bandOf(&s.Axes[axis]).Hi
}

// MinPosition is the lower soft-limit edge. Out-of-range axes report 0.
func (s *Settings) MinPosition(axis int) float64 {
	if axis < 0 || axis >= len(s.Axes) {
		return 0
	}
	return bandOf(&s.Axes[axis]).Lo
}

// OutOfBounds returns the axes whose coordinate in target lies outside
// its band. Axes with zero max travel never violate. Coordinates beyond
// the configured axis count are ignored.
func (s *Settings) OutOfBounds(target []float64) cnc.AxisMask {
	var m cnc.AxisMask
	for i := 0; i < len(s.Axes) && i < len(target); i++ {
		a := &s.Axes[i]
		if a.MaxTravel == 0 {
			continue
		}
		if !bandOf(a).Contains(target[i]) {
			m = m.With(i)
		}
	}
	return m
}
