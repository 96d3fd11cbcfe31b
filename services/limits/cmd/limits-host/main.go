//go:build !rp2040 && !rp2350

// Command limits-host runs the limits service against the motion
// simulator and serves the line console on a serial port or stdio.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"motioncode-go/bus"
	"motioncode-go/services/config"
	"motioncode-go/services/heartbeat"
	"motioncode-go/services/limits"
	"motioncode-go/services/limits/console"
	"motioncode-go/services/limits/internal/platform"
	"motioncode-go/services/limits/internal/sim"
	"motioncode-go/types"
)

type options struct {
	device  string
	baud    int
	cfgFile string
	profile string
	scale   float64
	debug   bool
}

func main() {
	var o options
	root := &cobra.Command{
		Use:           "limits-host",
		Short:         "Limit switch and homing console on a simulated machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := root.Flags()
	f.StringVar(&o.device, "device", "", "serial port for the console (stdio when empty)")
	f.IntVar(&o.baud, "baud", 115200, "serial baud rate")
	f.StringVar(&o.cfgFile, "config", "", "JSON config file (overrides --profile)")
	f.StringVar(&o.profile, "profile", "bench", "embedded config to load")
	f.Float64Var(&o.scale, "time-scale", 1, "simulated seconds per real second")
	f.BoolVar(&o.debug, "debug", false, "debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("limits-host", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	lvl := slog.LevelInfo
	if o.debug {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	raw, err := loadConfig(o)
	if err != nil {
		return err
	}
	doc, err := config.Parse(raw)
	if err != nil {
		return err
	}
	mc, ok := doc["machine"].(types.MachineConfig)
	if !ok {
		return errors.New("config has no machine section")
	}

	r, w, closeIO, err := openConsole(o)
	if err != nil {
		return err
	}
	defer closeIO()

	b := bus.NewBus(16)
	pins := platform.NewFakePinFactory()

	svc := limits.NewService(b.NewConnection("limits"), limits.Deps{
		Pins: pins,
		Motion: func(ctx context.Context, n int) limits.Motion {
			m := sim.Rig(mc, pins, sim.WithTiming(time.Millisecond, o.scale))
			m.Start(ctx)
			return m
		},
		Logger: log,
	})
	go svc.Run(ctx)

	config.NewConfigService(config.WithSource(raw), config.WithLogger(log)).
		Start(ctx, b.NewConnection("config"))

	hb := &heartbeat.Service{Log: log}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}

	log.Info("console ready", "device", o.device, "axes", len(mc.Axes))
	con := console.New(b.NewConnection("console"), w, console.WithLogger(log))
	if err := con.Serve(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "console")
	}
	return nil
}

func loadConfig(o options) ([]byte, error) {
	if o.cfgFile != "" {
		raw, err := os.ReadFile(o.cfgFile)
		return raw, errors.Wrap(err, "read config")
	}
	raw, ok := config.EmbeddedConfigLookup(o.profile)
	if !ok {
		return nil, errors.Errorf("no embedded config %q", o.profile)
	}
	return raw, nil
}

func openConsole(o options) (io.Reader, io.Writer, func(), error) {
	if o.device == "" {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: o.device, Baud: o.baud})
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "open %s", o.device)
	}
	return port, port, func() { _ = port.Close() }, nil
}
