// Package console speaks the controller's line protocol for limit and
// homing commands over any byte stream and forwards them to the limits
// service on the bus.
//
//	$H        home every configured cycle
//	$HXZ      home the named axes together
//	$X        clear an alarm without homing
//	$LE, $LD  enable or disable hard limits
//	?         status: <Mode|MPos:x,y,z|Pn:asserted|Arm:armed|Hm:homed>
//	Ctrl-X    soft reset, acted on as soon as the byte arrives
//
// Each command answers "ok" or "error:<code>". Homing answers when the
// cycle ends while other lines keep being served. Alarms are reported
// asynchronously as "ALARM:<n>".
package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"motioncode-go/bus"
	"motioncode-go/errcode"
	"motioncode-go/services/limits"
	"motioncode-go/services/limits/internal/consts"
	"motioncode-go/types"
	"motioncode-go/x/conv"
)

var (
	topicMachineState = bus.Topic{consts.TokMachine, consts.TokState}
	topicAlarm        = bus.Topic{consts.TokMachine, consts.TokAlarm}
)

// DefaultTimeout bounds every request except homing, which may take as
// long as the machine needs.
const DefaultTimeout = 2 * time.Second

// ResetByte is the realtime soft-reset character (Ctrl-X).
const ResetByte = 0x18

type Console struct {
	conn    *bus.Connection
	log     *slog.Logger
	timeout time.Duration

	wmu sync.Mutex
	w   io.Writer

	smu  sync.Mutex
	mode string
}

type Option func(*Console)

func WithLogger(l *slog.Logger) Option {
	return func(c *Console) {
		if l != nil {
			c.log = l
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(conn *bus.Connection, w io.Writer, opts ...Option) *Console {
	c := &Console{
		conn:    conn,
		w:       w,
		log:     slog.Default(),
		timeout: DefaultTimeout,
		mode:    "idle",
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("svc", "console")
	return c
}

// Serve executes lines read from r until r ends or ctx is done. Alarm
// events are written as they arrive.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stSub := c.conn.Subscribe(topicMachineState)
	alSub := c.conn.Subscribe(topicAlarm)
	defer c.conn.Unsubscribe(stSub)
	defer c.conn.Unsubscribe(alSub)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-stSub.Channel():
				if !ok {
					return
				}
				if v, ok := m.Payload.(types.MachineStateValue); ok {
					c.setMode(v.Mode)
				}
			case m, ok := <-alSub.Channel():
				if !ok {
					return
				}
				if ev, ok := m.Payload.(types.AlarmEvent); ok {
					c.writeLine(alarmLine(ev.Code))
				}
			}
		}
	}()

	var pending sync.WaitGroup
	defer pending.Wait()
	async := func(f func()) {
		pending.Add(1)
		go func() {
			defer pending.Done()
			f()
		}()
	}

	sc := bufio.NewScanner(&realtime{r: r, reset: func() { async(func() { c.reset(ctx) }) }})
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := sc.Text()
		if isHoming(line) {
			async(func() { c.writeLine(c.Exec(ctx, line)) })
			continue
		}
		if out := c.Exec(ctx, line); out != "" {
			c.writeLine(out)
		}
	}
	return sc.Err()
}

func isHoming(line string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "$H")
}

// reset asks the service to abort homing and halt motion. Success is
// silent; the resulting alarm is reported as usual.
func (c *Console) reset(ctx context.Context) {
	if out := c.do(ctx, consts.CtrlReset, nil, c.timeout); out != "ok" {
		c.writeLine(out)
	}
}

// realtime removes reset bytes from the stream as they are read, so a
// reset takes effect mid-line and while a command is running.
type realtime struct {
	r     io.Reader
	reset func()
}

func (rt *realtime) Read(p []byte) (int, error) {
	for {
		n, err := rt.r.Read(p)
		out := p[:0]
		for _, b := range p[:n] {
			if b == ResetByte {
				rt.reset()
				continue
			}
			out = append(out, b)
		}
		if len(out) > 0 || n == 0 || err != nil {
			return len(out), err
		}
	}
}

// Exec runs one command line and returns the response, or "" for a
// blank line.
func (c *Console) Exec(ctx context.Context, line string) string {
	line = strings.ToUpper(strings.TrimSpace(line))
	switch {
	case line == "":
		return ""
	case line == "?":
		return c.status(ctx)
	case line == "$H":
		return c.do(ctx, consts.CtrlHomeAll, nil, 0)
	case strings.HasPrefix(line, "$H"):
		return c.do(ctx, consts.CtrlHome, types.HomeRequest{Axes: line[2:]}, 0)
	case line == "$X":
		return c.do(ctx, consts.CtrlUnlock, nil, c.timeout)
	case line == "$LE":
		return c.do(ctx, consts.CtrlEnable, nil, c.timeout)
	case line == "$LD":
		return c.do(ctx, consts.CtrlDisable, nil, c.timeout)
	}
	c.log.Debug("unknown command", "line", line)
	return errLine(errcode.Unsupported)
}

func (c *Console) request(ctx context.Context, verb string, payload any, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rep, err := c.conn.RequestWait(ctx, c.conn.NewMessage(limits.CtrlTopic(verb), payload, false))
	if err != nil {
		return nil, errcode.Wrap(errcode.Timeout, verb, err)
	}
	return rep.Payload, nil
}

func (c *Console) do(ctx context.Context, verb string, payload any, timeout time.Duration) string {
	p, err := c.request(ctx, verb, payload, timeout)
	if err != nil {
		return errLine(errcode.Of(err))
	}
	switch v := p.(type) {
	case types.OKReply:
		if v.OK {
			return "ok"
		}
	case types.ErrorReply:
		c.log.Info("command failed", "verb", verb, "err", v.Error, "detail", v.Detail)
		return errLine(errcode.Code(v.Error))
	}
	return errLine(errcode.Error)
}

func (c *Console) status(ctx context.Context) string {
	p, err := c.request(ctx, consts.CtrlState, nil, c.timeout)
	if err != nil {
		return errLine(errcode.Of(err))
	}
	switch v := p.(type) {
	case types.LimitsValue:
		return statusLine(c.currentMode(), v)
	case types.ErrorReply:
		return errLine(errcode.Code(v.Error))
	}
	return errLine(errcode.Error)
}

func (c *Console) setMode(m string) {
	c.smu.Lock()
	c.mode = m
	c.smu.Unlock()
}

func (c *Console) currentMode() string {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.mode
}

func (c *Console) writeLine(s string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.w, s+"\r\n"); err != nil {
		c.log.Warn("console write", "err", err)
	}
}

// ---- formatting ----

func errLine(code errcode.Code) string { return "error:" + string(code) }

func alarmLine(code uint8) string {
	return string(conv.AppendUint([]byte("ALARM:"), uint64(code)))
}

func statusLine(mode string, v types.LimitsValue) string {
	b := make([]byte, 0, 96)
	b = append(b, '<')
	if mode != "" {
		b = append(b, strings.ToUpper(mode[:1])...)
		b = append(b, mode[1:]...)
	}
	if len(v.MPos) > 0 {
		b = append(b, "|MPos:"...)
		for i, p := range v.MPos {
			if i > 0 {
				b = append(b, ',')
			}
			b = conv.AppendFixed(b, p, 3)
		}
	}
	b = append(b, "|Pn:"...)
	b = append(b, v.Asserted...)
	b = append(b, "|Arm:"...)
	b = append(b, v.Armed...)
	b = append(b, "|Hm:"...)
	b = append(b, v.Homed...)
	b = append(b, '>')
	return string(b)
}
