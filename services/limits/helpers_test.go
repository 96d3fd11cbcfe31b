package limits

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"motioncode-go/cnc"
	"motioncode-go/services/limits/internal/platform"
	"motioncode-go/services/limits/internal/sim"
	"motioncode-go/types"
)

func intp(v int) *int           { return &v }
func f64p(v float64) *float64   { return &v }
func boolp(v bool) *bool        { return &v }
func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// xAxis is the reference axis: 300 mm travel, homing toward +, 2 mm pull-off.
func xAxis(pin int) types.AxisConfig {
	return types.AxisConfig{
		Name:      "X",
		MaxTravel: 300,
		Homing: &types.HomingConfig{
			PositiveDirection: true,
			SeekRate:          600,
			FeedRate:          120,
			PullOff:           2,
		},
		Gangs: []types.GangConfig{{Pin: intp(pin)}},
	}
}

func machineCfg(axes ...types.AxisConfig) types.MachineConfig {
	return types.MachineConfig{
		Axes: axes,
		Limits: types.LimitsConfig{
			HardLimits: true,
			SoftLimits: true,
			DebounceMS: intp(20),
		},
	}
}

func mustSettings(t *testing.T, cfg types.MachineConfig) *Settings {
	t.Helper()
	s, err := NewSettings(cfg)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	return s
}

// stubMotion reports a fixed moving flag and counts stops.
type stubMotion struct {
	moving atomic.Bool
	stops  atomic.Int32
}

func (m *stubMotion) Move(cnc.AxisMask, []float64, float64) (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}
func (m *stubMotion) StopAxes(cnc.AxisMask)    {}
func (m *stubMotion) Stop()                    { m.stops.Add(1); m.moving.Store(false) }
func (m *stubMotion) Moving() bool             { return m.moving.Load() }
func (m *stubMotion) Position() []float64      { return make([]float64, cnc.MaxAxes) }
func (m *stubMotion) SetPosition(int, float64) {}

// hwRig runs Limits against fake pins and a stub motion engine.
type hwRig struct {
	lim   *Limits
	state *cnc.State
	mo    *stubMotion
	pins  *platform.FakePinFactory
}

func newHWRig(t *testing.T, cfg types.MachineConfig) *hwRig {
	t.Helper()
	r := &hwRig{
		state: cnc.NewState(),
		mo:    &stubMotion{},
		pins:  platform.NewFakePinFactory(),
	}
	r.lim = New(mustSettings(t, cfg), r.state, r.mo, WithPins(r.pins), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.lim.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		_ = r.lim.Close()
		cancel()
	})
	return r
}

// simRig runs Limits against the kinematic simulator.
type simRig struct {
	lim   *Limits
	state *cnc.State
	mo    *sim.Motion
	pins  *platform.FakePinFactory
}

func newSimRig(t *testing.T, cfg types.MachineConfig, state *cnc.State) *simRig {
	t.Helper()
	if state == nil {
		state = cnc.NewState()
	}
	r := &simRig{
		state: state,
		mo:    sim.New(len(cfg.Axes), sim.WithTiming(time.Millisecond, 20)),
		pins:  platform.NewFakePinFactory(),
	}
	r.lim = New(mustSettings(t, cfg), r.state, r.mo, WithPins(r.pins), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.lim.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.mo.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = r.lim.Close()
	})
	return r
}

// addSwitch attaches a simulated switch to the pin bound for axis.
func (r *simRig) addSwitch(axis, pin int, at float64, positive bool) {
	r.mo.AddSwitch(sim.Switch{Axis: axis, At: at, Positive: positive, Pin: r.pins.Pin(pin)})
}

func waitMode(t *testing.T, st *cnc.State, want cnc.Mode, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		ch := st.Changed()
		if st.Mode() == want {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("mode = %v, want %v", st.Mode(), want)
		}
	}
}

func expectMode(t *testing.T, st *cnc.State, want cnc.Mode, hold time.Duration) {
	t.Helper()
	time.Sleep(hold)
	if got := st.Mode(); got != want {
		t.Fatalf("mode = %v, want %v (%+v)", got, want, st.Snapshot())
	}
}
