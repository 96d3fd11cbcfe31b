package limits

import (
	"testing"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/types"
)

// softRig has X homing toward +, Y toward - and Z with no travel limit.
func softRig(t *testing.T) *hwRig {
	t.Helper()
	y := xAxis(3)
	y.Name, y.MaxTravel = "Y", 200
	y.Homing.PositiveDirection = false
	z := types.AxisConfig{Name: "Z"}
	return newHWRig(t, machineCfg(xAxis(2), y, z))
}

func TestCheckTravel_Bands(t *testing.T) {
	r := softRig(t)
	cases := []struct {
		name   string
		target []float64
		want   cnc.AxisMask
	}{
		{"origin", []float64{0, 0, 0}, 0},
		{"x at max", []float64{300, 0, 0}, 0},
		{"x past max", []float64{300.001, 0, 0}, cnc.MaskOf(0)},
		{"x negative", []float64{-0.5, 0, 0}, cnc.MaskOf(0)},
		{"y at min", []float64{0, -200, 0}, 0},
		{"y positive", []float64{0, 1, 0}, cnc.MaskOf(1)},
		{"y past min", []float64{0, -201, 0}, cnc.MaskOf(1)},
		{"z unbounded", []float64{0, 0, -1e6}, 0},
		{"both", []float64{400, 5, 9}, cnc.MaskOf(0, 1)},
	}
	for _, c := range cases {
		if got := r.lim.CheckTravel(c.target); got != c.want {
			t.Errorf("%s: CheckTravel = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSoftCheck_AcceptsInside(t *testing.T) {
	r := softRig(t)
	target := []float64{150, -100, 42}
	if err := r.lim.SoftCheck(target); err != nil {
		t.Fatalf("SoftCheck: %v", err)
	}
	if err := r.lim.SoftCheck(target); err != nil {
		t.Fatalf("second SoftCheck: %v", err)
	}
	if r.state.Mode() != cnc.Idle {
		t.Fatalf("mode = %v", r.state.Mode())
	}
	if target[0] != 150 || target[1] != -100 {
		t.Fatal("target modified")
	}
}

func TestSoftCheck_ViolationAlarms(t *testing.T) {
	r := softRig(t)
	target := []float64{301, 0, 0}
	err := r.lim.SoftCheck(target)
	if errcode.Of(err) != errcode.SoftLimit {
		t.Fatalf("err = %v, want soft_limit", err)
	}
	snap := r.state.Snapshot()
	if snap.Mode != cnc.Alarm || snap.Alarm != cnc.AlarmSoftLimit || snap.AlarmAxes != cnc.MaskOf(0) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if target[0] != 301 {
		t.Fatal("target modified")
	}
}

func TestSoftCheck_Disabled(t *testing.T) {
	cfg := machineCfg(xAxis(2))
	cfg.Limits.SoftLimits = false
	r := newHWRig(t, cfg)
	if err := r.lim.SoftCheck([]float64{1e9}); err != nil {
		t.Fatalf("SoftCheck: %v", err)
	}
	if err := r.lim.JogCheck([]float64{1e9}); err != nil {
		t.Fatalf("JogCheck: %v", err)
	}
	if r.state.Mode() != cnc.Idle {
		t.Fatal("disabled soft limits raised an alarm")
	}
}

func TestSoftCheck_WrongLength(t *testing.T) {
	r := softRig(t)
	if err := r.lim.SoftCheck([]float64{0}); errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("err = %v", err)
	}
	if r.state.Mode() != cnc.Idle {
		t.Fatal("bad request raised an alarm")
	}
}

func TestJogCheck_NoAlarm(t *testing.T) {
	r := softRig(t)
	if err := r.lim.JogCheck([]float64{0, 10, 0}); errcode.Of(err) != errcode.TravelExceeded {
		t.Fatalf("err = %v, want travel_exceeded", err)
	}
	if r.state.Mode() != cnc.Idle {
		t.Fatal("jog check raised an alarm")
	}
	if err := r.lim.JogCheck([]float64{10, -10, 0}); err != nil {
		t.Fatalf("JogCheck: %v", err)
	}
}

func TestClampTarget(t *testing.T) {
	r := softRig(t)
	in := []float64{-5, 20, 777}
	got := r.lim.ClampTarget(in)
	want := []float64{0, 0, 777}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ClampTarget = %v, want %v", got, want)
		}
	}
	if in[0] != -5 {
		t.Fatal("input modified")
	}
}

func TestCheckTravel_SuspendedWhileHoming(t *testing.T) {
	r := softRig(t)
	r.lim.acquire(cnc.MaskOf(0))
	if got := r.lim.CheckTravel([]float64{330, 0, 0}); !got.Empty() {
		t.Fatalf("CheckTravel during homing = %v", got)
	}
	if r.lim.Armed().Has(0) {
		t.Fatal("homing axis still armed")
	}
	r.lim.release(cnc.MaskOf(0))
	if got := r.lim.CheckTravel([]float64{330, 0, 0}); got != cnc.MaskOf(0) {
		t.Fatalf("CheckTravel after homing = %v", got)
	}
	if !r.lim.Armed().Has(0) {
		t.Fatal("axis not re-armed")
	}
}
