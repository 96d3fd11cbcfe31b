// services/limits/soft.go
package limits

import (
	"strconv"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
)

// CheckTravel returns the axes of target outside their band, excluding
// axes whose soft limits are suspended by an active homing cycle.
// It has no side effects.
func (l *Limits) CheckTravel(target []float64) cnc.AxisMask {
	return l.set.OutOfBounds(target).Minus(cnc.AxisMask(l.softOff.Load()))
}

func (l *Limits) checkLen(op string, target []float64) error {
	if n := l.set.NumAxes(); len(target) != n {
		return &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "target has " + strconv.Itoa(len(target)) + " coordinates, want " + strconv.Itoa(n)}
	}
	return nil
}

// SoftCheck validates a planned target. A violation raises the
// soft-limit alarm and is returned as errcode.SoftLimit; the target is
// never modified. Disabled soft limits accept everything.
func (l *Limits) SoftCheck(target []float64) error {
	if !l.set.SoftLimits {
		return nil
	}
	if err := l.checkLen("soft_check", target); err != nil {
		return err
	}
	bad := l.CheckTravel(target)
	if bad.Empty() {
		return nil
	}
	if l.state.Alarm(cnc.AlarmSoftLimit, bad) {
		l.log.Warn("soft limit", "axes", bad.String())
	}
	return &errcode.E{C: errcode.SoftLimit, Op: "soft_check", Msg: "axes " + bad.String()}
}

// JogCheck rejects a jog target beyond travel without alarming, since
// a jog is cancellable and has not started.
func (l *Limits) JogCheck(target []float64) error {
	if !l.set.SoftLimits {
		return nil
	}
	if err := l.checkLen("jog_check", target); err != nil {
		return err
	}
	if bad := l.CheckTravel(target); !bad.Empty() {
		return &errcode.E{C: errcode.TravelExceeded, Op: "jog_check", Msg: "axes " + bad.String()}
	}
	return nil
}

// ClampTarget returns a copy of target limited to each axis band.
// Axes with zero travel are copied unchanged.
func (l *Limits) ClampTarget(target []float64) []float64 {
	out := append([]float64(nil), target...)
	for i := 0; i < len(out) && i < l.set.NumAxes(); i++ {
		if l.set.Axes[i].MaxTravel == 0 {
			continue
		}
		out[i] = bandOf(&l.set.Axes[i]).Clamp(out[i])
	}
	return out
}
