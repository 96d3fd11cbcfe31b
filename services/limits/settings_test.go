package limits

import (
	"testing"
	"time"

	"go.uber.org/multierr"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/types"
)

func TestSettings_Defaults(t *testing.T) {
	cfg := machineCfg(xAxis(2))
	cfg.Limits.DebounceMS = nil
	s := mustSettings(t, cfg)

	if s.Debounce != DefaultDebounce {
		t.Fatalf("Debounce = %v", s.Debounce)
	}
	if s.LocateCycles != DefaultLocateCycles {
		t.Fatalf("LocateCycles = %d", s.LocateCycles)
	}
	x := s.Axes[0]
	if x.SeekScaler != DefaultSeekScaler || x.MPos != 300 || !x.Gangs[0].HardLimits {
		t.Fatalf("axis defaults = %+v", x)
	}
}

func TestSettings_ZeroDebounceAllowed(t *testing.T) {
	cfg := machineCfg(xAxis(2))
	cfg.Limits.DebounceMS = intp(0)
	if s := mustSettings(t, cfg); s.Debounce != 0 {
		t.Fatalf("Debounce = %v, want 0", s.Debounce)
	}
	cfg.Limits.DebounceMS = intp(15)
	if s := mustSettings(t, cfg); s.Debounce != 15*time.Millisecond {
		t.Fatalf("Debounce = %v", s.Debounce)
	}
}

func TestSettings_CollectsAllErrors(t *testing.T) {
	bad := xAxis(2)
	bad.Homing.PullOff = 0
	bad.Homing.SeekRate = -1
	bad.Gangs[0].Pull = "sideways"
	cfg := machineCfg(bad)
	cfg.Limits.DebounceMS = intp(-1)

	_, err := NewSettings(cfg)
	if errcode.Of(err) != errcode.ConfigError {
		t.Fatalf("err code = %v (%v)", errcode.Of(err), err)
	}
	e, ok := err.(*errcode.E)
	if !ok {
		t.Fatalf("err type %T", err)
	}
	if n := len(multierr.Errors(e.Err)); n != 4 {
		t.Fatalf("got %d errors, want 4: %v", n, err)
	}
}

func TestSettings_RejectsAxisCount(t *testing.T) {
	if _, err := NewSettings(types.MachineConfig{}); errcode.Of(err) != errcode.ConfigError {
		t.Fatalf("err = %v", err)
	}
}

func TestSettings_MPosMustLieInBand(t *testing.T) {
	a := xAxis(2)
	a.Homing.MPos = f64p(-5)
	if _, err := NewSettings(machineCfg(a)); err == nil {
		t.Fatal("mpos outside [0, 300] accepted")
	}
}

func TestSwitchDefinedAndHomingAxes(t *testing.T) {
	y := types.AxisConfig{Name: "Y", MaxTravel: 200, Homing: &types.HomingConfig{SeekRate: 100, FeedRate: 10, PullOff: 1}}
	z := types.AxisConfig{Name: "Z", MaxTravel: 50, Gangs: []types.GangConfig{{}, {Pin: intp(7), HardLimits: boolp(false)}}}
	s := mustSettings(t, machineCfg(xAxis(2), y, z))

	cases := []struct {
		axis, gang int
		want       bool
	}{
		{0, 0, true},
		{0, 1, false},
		{1, 0, false}, // homing settings but no switch
		{2, 0, false},
		{2, 1, true},
		{3, 0, false}, // beyond configured axes
		{0, cnc.MaxGangs, false},
		{-1, 0, false},
	}
	for _, tc := range cases {
		if got := s.SwitchDefined(tc.axis, tc.gang); got != tc.want {
			t.Errorf("SwitchDefined(%d,%d) = %v, want %v", tc.axis, tc.gang, got, tc.want)
		}
	}
	if got := s.HomingAxes(); got != cnc.MaskOf(0) {
		t.Fatalf("HomingAxes = %v, want X", got)
	}
	if got := s.HardLimitAxes(); got != cnc.MaskOf(0) {
		t.Fatalf("HardLimitAxes = %v, want X", got)
	}
}

func TestSettings_Cycles(t *testing.T) {
	cfg := machineCfg(xAxis(2))
	cfg.Limits.Cycles = []string{"X"}
	if s := mustSettings(t, cfg); len(s.Cycles) != 1 || s.Cycles[0] != cnc.MaskOf(0) {
		t.Fatalf("Cycles = %v", s.Cycles)
	}
	cfg.Limits.Cycles = []string{"XY"}
	if _, err := NewSettings(cfg); err == nil {
		t.Fatal("cycle naming an unconfigured axis accepted")
	}
}

func TestMinMaxPosition(t *testing.T) {
	neg := xAxis(3)
	neg.Name = "Y"
	neg.Homing.PositiveDirection = false
	s := mustSettings(t, machineCfg(xAxis(2), neg))

	if s.MinPosition(0) != 0 || s.MaxPosition(0) != 300 {
		t.Fatalf("X band = [%v, %v]", s.MinPosition(0), s.MaxPosition(0))
	}
	if s.MinPosition(1) != -300 || s.MaxPosition(1) != 0 {
		t.Fatalf("Y band = [%v, %v]", s.MinPosition(1), s.MaxPosition(1))
	}
	if s.Axes[1].MPos != -300 {
		t.Fatalf("Y mpos default = %v", s.Axes[1].MPos)
	}
}
