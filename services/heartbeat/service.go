package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"motioncode-go/bus"
	"motioncode-go/types"
)

var (
	topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}
	topicMachineState    = bus.Topic{"machine", "state"}
	topicHeartbeat       = bus.Topic{"system", "heartbeat"}
)

const defaultInterval = time.Second

// Service logs and publishes a beat each interval carrying the last
// machine mode it saw, so a stuck alarm is visible without a console.
type Service struct {
	Log *slog.Logger

	seq   uint32
	start time.Time
	last  types.MachineStateValue
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	stSub := conn.Subscribe(topicMachineState)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(stSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("heartbeat service stopping")
			return
		case <-tick.C:
			s.beat(conn)
		case msg := <-stSub.Channel():
			if v, ok := msg.Payload.(types.MachineStateValue); ok {
				s.last = v
			}
		case msg := <-cfgSub.Channel():
			if d, ok := intervalOf(msg.Payload); ok {
				tick.Reset(d)
				s.Log.Info("heartbeat interval set", "interval", d)
			} else {
				s.Log.Warn("ignoring heartbeat config", "payload", msg.Payload)
			}
		}
	}
}

func (s *Service) beat(conn *bus.Connection) {
	s.seq++
	v := types.HeartbeatValue{
		Seq:     s.seq,
		UptimeS: int64(time.Since(s.start) / time.Second),
		Mode:    s.last.Mode,
		Alarm:   s.last.Alarm,
	}
	if v.Mode == "" {
		v.Mode = "unknown"
	}
	s.Log.Info("heartbeat", "seq", v.Seq, "uptime_s", v.UptimeS, "mode", v.Mode, "alarm", v.Alarm)
	conn.Publish(conn.NewMessage(topicHeartbeat, v, false))
}

// intervalOf accepts the typed config or the generic map form.
func intervalOf(p any) (time.Duration, bool) {
	var secs float64
	switch v := p.(type) {
	case types.HeartbeatConfig:
		secs = v.IntervalS
	case map[string]any:
		f, ok := v["interval"].(float64)
		if !ok {
			return 0, false
		}
		secs = f
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	s.Log = s.Log.With("svc", "heartbeat")
	s.start = time.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}
