// services/limits/service.go
package limits

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"motioncode-go/bus"
	"motioncode-go/cnc"
	"motioncode-go/drivers/pca9539"
	"motioncode-go/errcode"
	"motioncode-go/services/limits/internal/consts"
	"motioncode-go/services/limits/internal/halcore"
	"motioncode-go/services/limits/internal/platform"
	"motioncode-go/services/limits/internal/util"
	"motioncode-go/types"
	"motioncode-go/x/timex"
)

var (
	topicConfigMachine = bus.Topic{consts.TokConfig, consts.TokMachine}
	topicCtrl          = bus.Topic{consts.TokLimits, consts.TokControl, "+"}
	topicValue         = bus.Topic{consts.TokLimits, consts.TokValue}
	topicStatus        = bus.Topic{consts.TokLimits, consts.TokStatus}
	topicMachineState  = bus.Topic{consts.TokMachine, consts.TokState}
	topicAlarm         = bus.Topic{consts.TokMachine, consts.TokAlarm}
)

// CtrlTopic is the request topic for a control verb.
func CtrlTopic(verb string) bus.Topic {
	return bus.T(consts.TokLimits, consts.TokControl, verb)
}

// MotionFactory builds the motion engine for n axes. It may start
// goroutines bound to ctx, which ends when the machine is reconfigured.
type MotionFactory func(ctx context.Context, n int) Motion

// Deps are the platform hooks the service builds a machine from.
type Deps struct {
	Pins   halcore.PinFactory
	Buses  halcore.I2CBusFactory
	Motion MotionFactory
	State  *cnc.State // nil creates a fresh register
	Logger *slog.Logger

	// ReportEvery bounds how stale limits/value may get for switches
	// that are not armed. Zero uses 200 ms.
	ReportEvery time.Duration
}

// Service exposes one Limits instance on the bus and rebuilds it on
// every config/machine update.
type Service struct {
	conn  *bus.Connection
	deps  Deps
	state *cnc.State
	log   *slog.Logger

	lim       *Limits
	applied   *Settings
	expanders []*platform.Expander
	limCtx    context.Context
	cancel    context.CancelFunc
	booted    bool
	last      types.LimitsValue
	lastSeq   uint32

	// Homing requests run under cycleCtx; reset cancels it.
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
	homing      atomic.Int32
}

func NewService(conn *bus.Connection, deps Deps) *Service {
	if deps.Pins == nil {
		deps.Pins = platform.DefaultPinFactory()
	}
	if deps.Buses == nil {
		deps.Buses = platform.DefaultI2CFactory()
	}
	if deps.State == nil {
		deps.State = cnc.NewState()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ReportEvery <= 0 {
		deps.ReportEvery = 200 * time.Millisecond
	}
	return &Service{
		conn:  conn,
		deps:  deps,
		state: deps.State,
		log:   deps.Logger.With("svc", "limits-bus"),
	}
}

// State is the machine-state register the service reports.
func (s *Service) State() *cnc.State { return s.state }

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigMachine)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	report := time.NewTicker(s.deps.ReportEvery)
	defer report.Stop()

	stCh := s.state.Changed()
	s.publishStatus(consts.LevelIdle, "awaiting_config", nil)
	s.publishMachineState()

	for {
		var limCh <-chan struct{}
		if s.lim != nil {
			limCh = s.lim.Changed()
		}

		select {
		case <-ctx.Done():
			s.teardown()
			s.publishStatus(consts.LevelStopped, "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.MachineConfig
			if err := util.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishStatus(consts.LevelError, "config_decode_failed", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.log.Error("apply config failed", "err", err)
				s.publishStatus(consts.LevelError, "apply_config_failed", err)
				continue
			}
			s.publishStatus(consts.LevelReady, "configured", nil)
			s.publishValue(true)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-stCh:
			stCh = s.state.Changed()
			s.publishMachineState()

		case <-limCh:
			s.publishValue(false)

		case <-report.C:
			s.publishValue(false)
		}
	}
}

// ---- configuration ----

// applyConfig replaces the running machine with one built from cfg. The
// old instance must release its pins first, so a failed build restores
// the previous machine and raises AbortCycle: motion state was lost and
// hard-limit monitoring was briefly down.
func (s *Service) applyConfig(ctx context.Context, cfg types.MachineConfig) error {
	set, err := NewSettings(cfg)
	if err != nil {
		return err
	}
	prev := s.applied
	s.teardown()

	if err := s.build(ctx, set); err != nil {
		if prev != nil {
			if rerr := s.build(ctx, prev); rerr != nil {
				err = multierr.Append(err, rerr)
				s.log.Error("previous machine not restored", "err", rerr)
			} else {
				s.log.Warn("previous machine restored")
			}
			s.state.Alarm(cnc.AlarmAbortCycle, 0)
		}
		return err
	}

	if set.InitLock && !s.booted {
		s.state.Alarm(cnc.AlarmNone, set.HomingAxes())
	}
	s.booted = true
	return nil
}

// build starts the expanders, motion engine and Limits for set and makes
// them current. On error everything it started is stopped again.
func (s *Service) build(ctx context.Context, set *Settings) (err error) {
	lctx, cancel := context.WithCancel(ctx)
	var xs []*platform.Expander
	defer func() {
		if err != nil {
			cancel()
			for _, x := range xs {
				x.Wait()
			}
		}
	}()

	opts := []Option{WithLogger(s.deps.Logger), WithPins(s.deps.Pins)}
	for _, ec := range set.Expanders {
		x, err := s.startExpander(lctx, ec)
		if err != nil {
			return err
		}
		xs = append(xs, x)
		opts = append(opts, WithExpander(ec.ID, x))
	}

	var mo Motion
	if s.deps.Motion != nil {
		mo = s.deps.Motion(lctx, set.NumAxes())
	}
	if mo == nil {
		return &errcode.E{C: errcode.NotConfigured, Op: "apply_config", Msg: "no motion engine"}
	}

	lim := New(set, s.state, mo, opts...)
	if err := lim.Init(lctx); err != nil {
		return err
	}
	s.lim, s.applied, s.expanders, s.limCtx, s.cancel = lim, set, xs, lctx, cancel
	s.cycleCtx, s.cycleCancel = context.WithCancel(lctx)
	return nil
}

// startExpander brings up an input expander and its INT line reader.
func (s *Service) startExpander(ctx context.Context, ec types.ExpanderConfig) (*platform.Expander, error) {
	if ec.Type != "pca9539" {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "expander", Msg: ec.ID + ": type " + ec.Type}
	}
	i2c, ok := s.deps.Buses.ByID(ec.Bus)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownBus, Op: "expander", Msg: ec.ID + ": bus " + ec.Bus}
	}
	dev, err := pca9539.New(i2c, ec.Addr)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidParams, "expander", err)
	}
	if err := dev.Configure(pca9539.Config{}); err != nil {
		return nil, errcode.Wrap(errcode.Error, "expander", err)
	}
	p, ok := s.deps.Pins.ByNumber(ec.IntPin)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "expander", Msg: ec.ID + ": int pin"}
	}
	irq, ok := p.(halcore.IRQPin)
	if !ok {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "expander", Msg: ec.ID + ": int pin has no IRQ"}
	}
	x := platform.NewExpander(dev, irq)
	if err := x.Start(ctx); err != nil {
		return nil, errcode.Wrap(errcode.PinInUse, "expander", err)
	}
	s.log.Info("expander started", "id", ec.ID, "bus", ec.Bus, "addr", ec.Addr)
	return x, nil
}

func (s *Service) teardown() {
	if s.lim == nil {
		return
	}
	if err := s.lim.Close(); err != nil {
		s.log.Warn("limits close", "err", err)
	}
	s.cycleCancel()
	s.cancel()
	for _, x := range s.expanders {
		x.Wait()
	}
	s.lim, s.applied, s.expanders, s.limCtx, s.cancel = nil, nil, nil, nil, nil
	s.cycleCtx, s.cycleCancel = nil, nil
}

// ---- control ----

func (s *Service) handleControl(msg *bus.Message) {
	// limits/control/<verb>
	if len(msg.Topic) != 3 {
		return
	}
	verb, _ := msg.Topic[2].(string)
	lim := s.lim
	if lim == nil {
		s.replyErr(msg, &errcode.E{C: errcode.NotConfigured, Op: verb})
		return
	}

	switch verb {
	case consts.CtrlHome:
		var req types.HomeRequest
		if msg.Payload != nil {
			if err := util.DecodeJSON(msg.Payload, &req); err != nil {
				s.replyErr(msg, errcode.Wrap(errcode.InvalidPayload, verb, err))
				return
			}
		}
		mask := lim.Settings().HomingAxes()
		if req.Axes != "" {
			m, ok := cnc.ParseMask(req.Axes, lim.Settings().NumAxes())
			if !ok {
				s.replyErr(msg, &errcode.E{C: errcode.InvalidParams, Op: verb, Msg: "axes " + req.Axes})
				return
			}
			mask = m
		}
		k := lim.Settings().LocateCycles
		if req.LocateCycles != nil {
			k = *req.LocateCycles
		}
		s.runHoming(msg, func(ctx context.Context) error { return lim.GoHome(ctx, mask, k) })

	case consts.CtrlHomeAll:
		s.runHoming(msg, lim.HomeAll)

	case consts.CtrlUnlock:
		s.state.Unlock()
		s.replyOK(msg)

	case consts.CtrlReset:
		// A running homing cycle fails on its own with HomingFailReset.
		homing := s.homing.Load() > 0
		s.cycleCancel()
		s.cycleCtx, s.cycleCancel = context.WithCancel(s.limCtx)
		if !homing {
			lim.Halt()
		}
		s.replyOK(msg)

	case consts.CtrlEnable:
		lim.Enable()
		s.replyOK(msg)

	case consts.CtrlDisable:
		lim.Disable()
		s.replyOK(msg)

	case consts.CtrlSoftCheck:
		var req types.SoftCheckRequest
		if err := util.DecodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.Wrap(errcode.InvalidPayload, verb, err))
			return
		}
		err := lim.SoftCheck(req.Target)
		switch {
		case err == nil:
			s.reply(msg, types.SoftCheckReply{OK: true})
		case errcode.Is(err, errcode.SoftLimit):
			s.reply(msg, types.SoftCheckReply{
				Axes:   lim.CheckTravel(req.Target).String(),
				Target: lim.ClampTarget(req.Target),
			})
		default:
			s.replyErr(msg, err)
		}

	case consts.CtrlState:
		s.reply(msg, s.value(lim))

	case consts.CtrlStats:
		st := lim.Stats()
		rep := types.LimitsStats{ISR: st.ISR, Posts: st.Posts, Trips: st.Trips, Bounces: st.Bounces}
		for _, x := range s.expanders {
			rep.ExpanderErrors += x.ReadErrors()
		}
		s.reply(msg, rep)

	default:
		s.replyErr(msg, &errcode.E{C: errcode.Unsupported, Op: verb})
	}
}

// runHoming runs a blocking homing call off the service loop and replies
// when it ends. A reset or a reconfigure cancels it.
func (s *Service) runHoming(msg *bus.Message, home func(context.Context) error) {
	ctx := s.cycleCtx
	s.homing.Add(1)
	go func() {
		defer s.homing.Add(-1)
		if err := home(ctx); err != nil {
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg)
	}()
}

// ---- publishing ----

func (s *Service) value(lim *Limits) types.LimitsValue {
	g := lim.GangState()
	gangs := make([]uint8, len(g))
	for i, m := range g {
		gangs[i] = uint8(m)
	}
	return types.LimitsValue{
		Asserted: lim.State().String(),
		Armed:    lim.Armed().String(),
		Homed:    lim.Homed().String(),
		Gangs:    gangs,
		MPos:     lim.Position(),
		TS:       timex.NowMs(),
	}
}

// publishValue publishes limits/value when it differs from the last
// report, or unconditionally when force is set.
func (s *Service) publishValue(force bool) {
	if s.lim == nil {
		return
	}
	v := s.value(s.lim)
	if !force && sameValue(v, s.last) {
		return
	}
	s.last = v
	s.pubRet(topicValue, v)
}

func sameValue(a, b types.LimitsValue) bool {
	if a.Asserted != b.Asserted || a.Armed != b.Armed || a.Homed != b.Homed || len(a.Gangs) != len(b.Gangs) {
		return false
	}
	for i := range a.Gangs {
		if a.Gangs[i] != b.Gangs[i] {
			return false
		}
	}
	return true
}

func alarmName(snap cnc.Snapshot) string {
	if snap.Mode == cnc.Alarm && snap.Alarm == cnc.AlarmNone {
		return consts.AlarmLocked
	}
	if snap.Alarm == cnc.AlarmNone {
		return ""
	}
	return snap.Alarm.String()
}

func (s *Service) publishMachineState() {
	snap := s.state.Snapshot()
	now := timex.NowMs()
	v := types.MachineStateValue{
		Mode:      snap.Mode.String(),
		Alarm:     uint8(snap.Alarm),
		AlarmName: alarmName(snap),
		TS:        now,
	}
	if !snap.AlarmAxes.Empty() {
		v.AlarmAxes = snap.AlarmAxes.String()
	}
	s.pubRet(topicMachineState, v)

	if snap.Mode == cnc.Alarm && snap.Seq != s.lastSeq {
		s.conn.Publish(s.conn.NewMessage(topicAlarm, types.AlarmEvent{
			Code: uint8(snap.Alarm),
			Name: alarmName(snap),
			Axes: snap.AlarmAxes.String(),
			TS:   now,
		}, false))
	}
	s.lastSeq = snap.Seq
}

func (s *Service) publishStatus(level, status string, err error) {
	v := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		v.Error = err.Error()
	}
	s.pubRet(topicStatus, v)
}

func (s *Service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func (s *Service) reply(m *bus.Message, p any) {
	if m.CanReply() {
		s.conn.Reply(m, p, false)
	}
}

func (s *Service) replyOK(m *bus.Message) {
	s.reply(m, types.OKReply{OK: true})
}

func (s *Service) replyErr(m *bus.Message, err error) {
	s.reply(m, types.ErrorReply{Error: string(errcode.Of(err)), Detail: err.Error()})
}
