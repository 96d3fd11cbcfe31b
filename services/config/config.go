package config

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"motioncode-go/bus"
	"motioncode-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

type ConfigService struct {
	Name string

	log    *slog.Logger
	source []byte
}

type Option func(*ConfigService)

func WithLogger(l *slog.Logger) Option {
	return func(s *ConfigService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSource publishes raw instead of the embedded config for the device.
func WithSource(raw []byte) Option {
	return func(s *ConfigService) { s.source = raw }
}

func NewConfigService(opts ...Option) *ConfigService {
	s := &ConfigService{Name: serviceName, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("svc", serviceName)
	return s
}

// Parse splits a config document into its top-level keys. Keys with a
// known schema decode to their typed payload; the rest stay generic.
func Parse(raw []byte) (map[string]any, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "config is not a JSON object")
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		p, err := decodeKey(k, v)
		if err != nil {
			return nil, errors.Wrapf(err, "config key %q", k)
		}
		out[k] = p
	}
	return out, nil
}

func decodeKey(key string, raw json.RawMessage) (any, error) {
	switch key {
	case "machine":
		var m types.MachineConfig
		err := json.Unmarshal(raw, &m)
		return m, err
	case "heartbeat":
		var h types.HeartbeatConfig
		err := json.Unmarshal(raw, &h)
		return h, err
	}
	var v any
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (s *ConfigService) load(ctx context.Context) ([]byte, error) {
	if s.source != nil {
		return s.source, nil
	}
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return nil, errors.New("missing device ID in context")
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, errors.Errorf("no embedded config for device: %s", device)
	}
	return raw, nil
}

// publishConfig publishes every top-level key as a retained message on
// config/<key>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	raw, err := s.load(ctx)
	if err != nil {
		return err
	}
	m, err := Parse(raw)
	if err != nil {
		return err
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	s.log.Info("config published", "keys", len(m))
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.Error("publish config", "err", err)
		}
	}()
}
