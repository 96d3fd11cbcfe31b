package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"motioncode-go/bus"
	"motioncode-go/errcode"
	"motioncode-go/services/limits/internal/consts"
	"motioncode-go/types"
)

// fakeLimits answers control requests with canned replies and records
// the verbs and payloads it saw.
type fakeLimits struct {
	mu      sync.Mutex
	verbs   []string
	homeReq []types.HomeRequest
	replies map[string]any
}

func startFake(t *testing.T, b *bus.Bus) *fakeLimits {
	t.Helper()
	f := &fakeLimits{replies: map[string]any{}}
	conn := b.NewConnection("fake-limits")
	sub := conn.Subscribe(bus.T(consts.TokLimits, consts.TokControl, "+"))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-sub.Channel():
				verb, _ := m.Topic[2].(string)
				f.mu.Lock()
				f.verbs = append(f.verbs, verb)
				if hr, ok := m.Payload.(types.HomeRequest); ok {
					f.homeReq = append(f.homeReq, hr)
				}
				rep, ok := f.replies[verb]
				f.mu.Unlock()
				if !ok {
					rep = types.OKReply{OK: true}
				}
				conn.Reply(m, rep, false)
			}
		}
	}()
	return f
}

func (f *fakeLimits) set(verb string, rep any) {
	f.mu.Lock()
	f.replies[verb] = rep
	f.mu.Unlock()
}

func (f *fakeLimits) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.verbs...)
}

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func quiet() Option { return WithLogger(slog.New(slog.DiscardHandler)) }

func TestExec_Commands(t *testing.T) {
	b := bus.NewBus(16)
	f := startFake(t, b)
	c := New(b.NewConnection("console"), io.Discard, quiet())
	ctx := context.Background()

	cases := []struct {
		line, want, verb string
	}{
		{"$H", "ok", consts.CtrlHomeAll},
		{"$hxz", "ok", consts.CtrlHome},
		{"$X", "ok", consts.CtrlUnlock},
		{" $LE ", "ok", consts.CtrlEnable},
		{"$LD", "ok", consts.CtrlDisable},
	}
	for _, tc := range cases {
		if got := c.Exec(ctx, tc.line); got != tc.want {
			t.Fatalf("Exec(%q) = %q, want %q", tc.line, got, tc.want)
		}
		verbs := f.seen()
		if verbs[len(verbs)-1] != tc.verb {
			t.Fatalf("Exec(%q) sent %q, want %q", tc.line, verbs[len(verbs)-1], tc.verb)
		}
	}
	f.mu.Lock()
	axes := f.homeReq[0].Axes
	f.mu.Unlock()
	if axes != "XZ" {
		t.Fatalf("home axes = %q", axes)
	}

	if got := c.Exec(ctx, ""); got != "" {
		t.Fatalf("blank line = %q", got)
	}
	if got := c.Exec(ctx, "$$"); got != "error:unsupported" {
		t.Fatalf("unknown = %q", got)
	}
}

func TestExec_ErrorReply(t *testing.T) {
	b := bus.NewBus(16)
	f := startFake(t, b)
	f.set(consts.CtrlHomeAll, types.ErrorReply{Error: string(errcode.HomingFail), Detail: "alarm 9"})
	c := New(b.NewConnection("console"), io.Discard, quiet())

	if got := c.Exec(context.Background(), "$H"); got != "error:homing_fail" {
		t.Fatalf("Exec = %q", got)
	}
}

func TestExec_NoService(t *testing.T) {
	b := bus.NewBus(16)
	c := New(b.NewConnection("console"), io.Discard, quiet(), WithTimeout(20*time.Millisecond))
	if got := c.Exec(context.Background(), "$X"); got != "error:timeout" {
		t.Fatalf("Exec = %q", got)
	}
}

func TestStatusLine(t *testing.T) {
	b := bus.NewBus(16)
	f := startFake(t, b)
	f.set(consts.CtrlState, types.LimitsValue{Asserted: "Z", Armed: "XY", Homed: "-", MPos: []float64{298, -1.5, 0}})
	c := New(b.NewConnection("console"), io.Discard, quiet())
	c.setMode("alarm")

	if got, want := c.Exec(context.Background(), "?"), "<Alarm|MPos:298.000,-1.500,0.000|Pn:Z|Arm:XY|Hm:->"; got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}
}

func TestServe_WritesRepliesAndAlarms(t *testing.T) {
	b := bus.NewBus(16)
	startFake(t, b)
	out := &syncBuf{}
	pub := b.NewConnection("pub")
	c := New(b.NewConnection("console"), out, quiet())

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, pr) }()

	if _, err := io.WriteString(pw, "$X\r\n"); err != nil {
		t.Fatal(err)
	}
	waitOutput(t, out, "ok\r\n")

	pub.Publish(pub.NewMessage(topicAlarm, types.AlarmEvent{Code: 1, Name: "hard_limit", Axes: "X"}, false))
	waitOutput(t, out, "ALARM:1\r\n")

	pw.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return at EOF")
	}
}

func waitOutput(t *testing.T, out *syncBuf, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output %q lacks %q", out.String(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestServe_ResetWhileHoming(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("fake-limits")
	sub := conn.Subscribe(bus.T(consts.TokLimits, consts.TokControl, "+"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	homeSeen := make(chan struct{})
	go func() {
		var pending *bus.Message
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-sub.Channel():
				switch verb, _ := m.Topic[2].(string); verb {
				case consts.CtrlHomeAll:
					pending = m
					close(homeSeen)
				case consts.CtrlReset:
					if pending != nil {
						conn.Reply(pending, types.ErrorReply{Error: string(errcode.HomingFail), Detail: "alarm 6"}, false)
						pending = nil
					}
					conn.Reply(m, types.OKReply{OK: true}, false)
				case consts.CtrlState:
					conn.Reply(m, types.LimitsValue{Asserted: "-", Armed: "XYZ", Homed: "-"}, false)
				}
			}
		}
	}()

	out := &syncBuf{}
	c := New(b.NewConnection("console"), out, quiet())
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, pr) }()

	if _, err := io.WriteString(pw, "$H\n?\n"); err != nil {
		t.Fatal(err)
	}
	// Status is served while the homing reply is outstanding.
	waitOutput(t, out, "|Pn:-|Arm:XYZ|Hm:->\r\n")
	select {
	case <-homeSeen:
	case <-time.After(time.Second):
		t.Fatal("home_all never requested")
	}
	if strings.Contains(out.String(), "error:") {
		t.Fatalf("output %q before reset", out.String())
	}

	// Reset mid-line, with no newline after it.
	if _, err := io.WriteString(pw, "$L\x18"); err != nil {
		t.Fatal(err)
	}
	waitOutput(t, out, "error:homing_fail\r\n")

	pw.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return at EOF")
	}
	if strings.Contains(out.String(), "\x18") {
		t.Fatal("reset byte echoed")
	}
}

func TestRealtime_StripsResetBytes(t *testing.T) {
	resets := 0
	rt := &realtime{r: strings.NewReader("\x18\x18$X\x18\n"), reset: func() { resets++ }}
	got, err := io.ReadAll(rt)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "$X\n" || resets != 3 {
		t.Fatalf("read %q with %d resets", got, resets)
	}
}
