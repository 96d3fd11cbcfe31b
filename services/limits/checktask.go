// services/limits/checktask.go
package limits

import (
	"context"

	"motioncode-go/cnc"
	"motioncode-go/x/timex"
)

// checkTask confirms ISR reports after the debounce delay and raises
// the hard-limit alarm. It runs until ctx is done.
func (l *Limits) checkTask(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	t := timex.NewStoppedTimer()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.box.Wake():
		}
		posted := cnc.AxisMask(l.box.Take())
		if posted == 0 {
			continue
		}
		if !timex.Wait(ctx, t, l.set.Debounce) {
			return
		}
		_, hard := l.sample()
		confirmed := hard & posted & l.Armed()
		l.notify()
		if confirmed == 0 {
			l.bounces.Add(1)
			l.log.Debug("limit bounce filtered", "posted", posted.String())
			continue
		}
		l.trip(confirmed)
	}
}

// trip stops motion and raises the alarm when axes may be moving.
func (l *Limits) trip(axes cnc.AxisMask) {
	mode := l.state.Mode()
	if !l.mo.Moving() && !mode.Busy() {
		l.log.Info("limit asserted while idle", "axes", axes.String(), "mode", mode.String())
		return
	}
	// Alarm first so a homing cycle woken by the stop sees the cause.
	raised := l.state.Alarm(cnc.AlarmHardLimit, axes)
	l.mo.Stop()
	l.trips.Add(1)
	if raised {
		l.log.Warn("hard limit", "axes", axes.String(), "mode", mode.String())
	}
}
