//go:build rp2040 || rp2350

package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"motioncode-go/bus"
	"motioncode-go/services/config"
	"motioncode-go/services/heartbeat"
	"motioncode-go/services/limits"
	"motioncode-go/services/limits/console"
)

const (
	device      = "pico"
	consoleBaud = 115200
)

// uartStream adapts uartx to io.Reader for the console's line scanner.
type uartStream struct {
	ctx context.Context
	u   *uartx.UART
}

func (s uartStream) Read(p []byte) (int, error)  { return s.u.RecvSomeContext(s.ctx, p) }
func (s uartStream) Write(p []byte) (int, error) { return s.u.Write(p) }

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	log := slog.New(slog.NewTextHandler(machine.Serial, nil))
	log.Info("boot", "device", device)

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)
	b := bus.NewBus(8)

	svc := limits.NewService(b.NewConnection("limits"), limits.Deps{
		Motion: limits.OpenLoopMotion,
		Logger: log,
	})
	go svc.Run(ctx)

	config.NewConfigService(config.WithLogger(log)).Start(ctx, b.NewConnection("config"))

	hb := &heartbeat.Service{Log: log}
	_ = hb.Start(ctx, b.NewConnection("heartbeat"))

	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{
		BaudRate: consoleBaud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	}); err != nil {
		log.Error("uart0 configure", "err", err)
		return
	}
	st := uartStream{ctx: ctx, u: u}
	con := console.New(b.NewConnection("console"), st, console.WithLogger(log))
	for {
		if err := con.Serve(ctx, st); err != nil {
			log.Warn("console", "err", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
