// services/limits/homing.go
package limits

import (
	"context"
	"math"
	"strconv"

	"motioncode-go/cnc"
	"motioncode-go/errcode"
	"motioncode-go/x/mailbox"
	"motioncode-go/x/mathx"
)

type phase uint8

const (
	phaseSeek phase = iota
	phasePullOff
	phaseLocate
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseSeek:
		return "seek"
	case phasePullOff:
		return "pulloff"
	case phaseLocate:
		return "locate"
	}
	return "done"
}

// homingFailure carries the alarm to raise for a failed cycle.
type homingFailure struct {
	alarm cnc.AlarmCode
	err   error
}

// cycle is one homing run over a group of axes.
type cycle struct {
	l       *Limits
	mask    cnc.AxisMask
	locates int
	box     *mailbox.Word
	alarmed <-chan struct{}
}

// GoHome homes the axes in mask together, with nLocate precision passes.
// It blocks until the cycle ends. Requesting an axis without a homing
// switch is a configuration error and leaves all state untouched.
func (l *Limits) GoHome(ctx context.Context, mask cnc.AxisMask, nLocate int) error {
	n := l.set.NumAxes()
	if mask.Empty() || mask.Limit(n) != mask {
		return &errcode.E{C: errcode.ConfigError, Op: "home", Msg: "invalid axis mask " + mask.String()}
	}
	if miss := mask.Minus(l.set.HomingAxes()); !miss.Empty() {
		return &errcode.E{C: errcode.ConfigError, Op: "home", Msg: "no homing switch on " + miss.String()}
	}
	if nLocate < 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: "home", Msg: "locate cycles < 0"}
	}
	if !l.homingMu.TryLock() {
		return &errcode.E{C: errcode.Busy, Op: "home", Msg: "homing in progress"}
	}
	defer l.homingMu.Unlock()
	if l.mo.Moving() {
		return &errcode.E{C: errcode.Busy, Op: "home", Msg: "motion active"}
	}
	alarmed, err := l.state.BeginHoming()
	if err != nil {
		return err
	}

	c := &cycle{
		l:       l,
		mask:    mask,
		locates: nLocate,
		box:     mailbox.New(),
		alarmed: alarmed,
	}
	return c.run(ctx)
}

// HomeAll runs every configured homing cycle in order, stopping at the
// first failure. Without configured cycles all homing axes go together.
func (l *Limits) HomeAll(ctx context.Context) error {
	cycles := l.set.Cycles
	if len(cycles) == 0 {
		cycles = []cnc.AxisMask{l.set.HomingAxes()}
	}
	for _, m := range cycles {
		if err := l.GoHome(ctx, m, l.set.LocateCycles); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) run(ctx context.Context) error {
	l := c.l
	l.acquire(c.mask)
	l.homeBox.Store(c.box)
	defer func() {
		l.homeBox.Store(nil)
		l.release(c.mask)
	}()

	l.log.Info("homing start", "axes", c.mask.String(), "locate", c.locates)
	for ph := phaseSeek; ph != phaseDone; {
		if f := c.checkpoint(ctx); f != nil {
			return c.fail(ph, f)
		}
		var f *homingFailure
		next := phaseDone
		switch ph {
		case phaseSeek:
			f = c.approach(ctx, c.seekRate(), c.seekTravel)
			next = phasePullOff
		case phaseLocate:
			c.locates--
			f = c.approach(ctx, c.feedRate(), c.locateTravel)
			next = phasePullOff
		case phasePullOff:
			f = c.pullOff(ctx)
			if c.locates > 0 {
				next = phaseLocate
			}
		}
		if f != nil {
			return c.fail(ph, f)
		}
		ph = next
	}
	if f := c.checkpoint(ctx); f != nil {
		return c.fail(phaseDone, f)
	}

	// Machine-zero and the homed bits change only if no alarm has taken
	// the register out of Homing.
	if err := l.state.CommitHoming(c.commit); err != nil {
		return c.fail(phaseDone, c.alarmFailure())
	}
	l.log.Info("homing done", "axes", c.mask.String())
	return nil
}

func (c *cycle) commit() {
	l := c.l
	for _, i := range c.mask.Axes() {
		a := &l.set.Axes[i]
		l.mo.SetPosition(i, a.MPos-a.dir()*a.PullOff)
	}
	l.homed.Store(uint32(l.Homed().Union(c.mask)))
}

// acquire moves authority over mask from the ISR to the homing cycle.
func (l *Limits) acquire(mask cnc.AxisMask) {
	l.owned.Store(uint32(cnc.AxisMask(l.owned.Load()).Union(mask)))
	l.softOff.Store(uint32(cnc.AxisMask(l.softOff.Load()).Union(mask)))
	l.rearm()
}

// release hands mask back to the ISR and restores soft limits.
func (l *Limits) release(mask cnc.AxisMask) {
	l.owned.Store(uint32(cnc.AxisMask(l.owned.Load()).Minus(mask)))
	l.softOff.Store(uint32(cnc.AxisMask(l.softOff.Load()).Minus(mask)))
	l.rearm()
	l.notify()
}

// checkpoint reports cancellation or an alarm raised elsewhere.
func (c *cycle) checkpoint(ctx context.Context) *homingFailure {
	select {
	case <-ctx.Done():
		return &homingFailure{alarm: cnc.AlarmHomingFailReset, err: ctx.Err()}
	case <-c.alarmed:
		return c.alarmFailure()
	default:
		return nil
	}
}

func (c *cycle) alarmFailure() *homingFailure {
	snap := c.l.state.Snapshot()
	return &homingFailure{
		alarm: snap.Alarm,
		err:   &errcode.E{C: errcode.Alarmed, Op: "home", Msg: snap.Alarm.String() + " on " + snap.AlarmAxes.String()},
	}
}

func (c *cycle) seekTravel(a *Axis) float64   { return a.SeekScaler * a.MaxTravel }
func (c *cycle) locateTravel(a *Axis) float64 { return a.PullOff * locateScale }

// seekRate is the slowest configured seek rate scaled by sqrt(n) so each
// axis moves at about its own rate on a diagonal.
func (c *cycle) seekRate() float64 {
	return c.groupRate(func(a *Axis) float64 { return a.SeekRate })
}

func (c *cycle) feedRate() float64 {
	return c.groupRate(func(a *Axis) float64 { return a.FeedRate })
}

func (c *cycle) groupRate(rate func(*Axis) float64) float64 {
	r := math.Inf(1)
	for _, i := range c.mask.Axes() {
		r = mathx.Min(r, rate(&c.l.set.Axes[i]))
	}
	return r * math.Sqrt(float64(c.mask.Count()))
}

// approach moves toward home until every axis in the mask has found its
// switch. Each axis stops on its own as its switch asserts. The move
// running out with a switch still missing fails the cycle.
func (c *cycle) approach(ctx context.Context, rate float64, travel func(*Axis) float64) *homingFailure {
	l := c.l
	c.box.Clear()
	pos := l.mo.Position()
	target := append([]float64(nil), pos...)
	for _, i := range c.mask.Axes() {
		a := &l.set.Axes[i]
		target[i] = pos[i] + a.dir()*travel(a)
	}
	done, err := l.mo.Move(c.mask, target, rate)
	if err != nil {
		return &homingFailure{alarm: cnc.AlarmHomingFailApproach, err: errcode.Wrap(errcode.HomingFail, "home", err)}
	}

	var found cnc.AxisMask
	for {
		if hit := l.State().Intersect(c.mask).Minus(found); !hit.Empty() {
			l.mo.StopAxes(hit)
			found = found.Union(hit)
			l.log.Debug("homing switch found", "axes", hit.String())
		}
		if found == c.mask {
			return c.waitDone(ctx, done)
		}
		select {
		case <-ctx.Done():
			return c.checkpoint(ctx)
		case <-c.alarmed:
			return c.alarmFailure()
		case <-c.box.Wake():
			c.box.Take()
		case <-done:
			if f := c.checkpoint(ctx); f != nil {
				return f
			}
			found = found.Union(l.State().Intersect(c.mask))
			if found == c.mask {
				return nil
			}
			return &homingFailure{
				alarm: cnc.AlarmHomingFailApproach,
				err:   &errcode.E{C: errcode.HomingFail, Op: "home", Msg: "switch not found on " + c.mask.Minus(found).String()},
			}
		}
	}
}

// pullOff retracts every axis away from home by its pull-off distance.
// A switch still asserted afterwards fails the cycle.
func (c *cycle) pullOff(ctx context.Context) *homingFailure {
	l := c.l
	pos := l.mo.Position()
	target := append([]float64(nil), pos...)
	for _, i := range c.mask.Axes() {
		a := &l.set.Axes[i]
		target[i] = pos[i] - a.dir()*a.PullOff
	}
	done, err := l.mo.Move(c.mask, target, c.feedRate())
	if err != nil {
		return &homingFailure{alarm: cnc.AlarmHomingFailPulloff, err: errcode.Wrap(errcode.HomingFail, "home", err)}
	}
	if f := c.waitDone(ctx, done); f != nil {
		return f
	}
	if stuck := l.State().Intersect(c.mask); !stuck.Empty() {
		return &homingFailure{
			alarm: cnc.AlarmHomingFailPulloff,
			err:   &errcode.E{C: errcode.HomingFail, Op: "home", Msg: "switch still asserted after pull-off on " + stuck.String()},
		}
	}
	return nil
}

func (c *cycle) waitDone(ctx context.Context, done <-chan struct{}) *homingFailure {
	select {
	case <-done:
		return c.checkpoint(ctx)
	case <-ctx.Done():
		return c.checkpoint(ctx)
	case <-c.alarmed:
		return c.alarmFailure()
	}
}

// fail stops motion, raises the alarm and forgets the homed state of the
// mask. Positions are left untouched.
func (c *cycle) fail(ph phase, f *homingFailure) error {
	l := c.l
	l.mo.Stop()
	l.state.Alarm(f.alarm, c.mask)
	l.homed.Store(uint32(l.Homed().Minus(c.mask)))
	l.log.Warn("homing failed",
		"axes", c.mask.String(),
		"phase", ph.String(),
		"alarm", f.alarm.String(),
		"err", f.err)
	return &errcode.E{C: errcode.HomingFail, Op: "home", Msg: "alarm " + strconv.Itoa(int(f.alarm)), Err: f.err}
}
