package types

// Machine configuration supplied on topic "config/machine".

type MachineConfig struct {
	Axes      []AxisConfig     `json:"axes"`
	Limits    LimitsConfig     `json:"limits"`
	Expanders []ExpanderConfig `json:"expanders,omitempty"`
}

type AxisConfig struct {
	Name      string        `json:"name"`          // "X", "Y", ...
	MaxTravel float64       `json:"max_travel_mm"` // 0 disables soft limits on the axis
	Homing    *HomingConfig `json:"homing,omitempty"`
	Gangs     []GangConfig  `json:"gangs,omitempty"` // at most two
}

type HomingConfig struct {
	PositiveDirection bool     `json:"positive_direction"`
	MPos              *float64 `json:"mpos_mm,omitempty"`     // machine position of the switch; defaults to the travel end
	SeekRate          float64  `json:"seek_mm_per_min"`       // fast approach
	FeedRate          float64  `json:"feed_mm_per_min"`       // locate and pull-off
	PullOff           float64  `json:"pulloff_mm"`            // >0
	SeekScaler        float64  `json:"seek_scaler,omitempty"` // default 1.1
}

// GangConfig binds one limit switch. Pin nil leaves the gang undefined.
type GangConfig struct {
	Pin        *int   `json:"pin,omitempty"`      // MCU GPIO, or expander input when Expander is set
	Expander   string `json:"expander,omitempty"` // ExpanderConfig.ID
	ActiveLow  bool   `json:"active_low,omitempty"`
	Pull       string `json:"pull,omitempty"` // "up", "down", "none"
	HardLimits *bool  `json:"hard_limits,omitempty"`
}

// ExpanderConfig describes an I2C input expander carrying switches.
type ExpanderConfig struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "pca9539"
	Bus    string `json:"bus"`  // "i2c0"
	Addr   uint16 `json:"addr"`
	IntPin int    `json:"int_pin"`
}

type LimitsConfig struct {
	HardLimits   bool     `json:"hard_limits"`
	SoftLimits   bool     `json:"soft_limits"`
	DebounceMS   *int     `json:"debounce_ms,omitempty"`   // default 10, 0 allowed
	LocateCycles *int     `json:"locate_cycles,omitempty"` // default 1
	Cycles       []string `json:"homing_cycles,omitempty"` // e.g. ["Z", "XY"]
	InitLock     bool     `json:"homing_init_lock,omitempty"`
}

type HeartbeatConfig struct {
	IntervalS float64 `json:"interval"`
}

// HeartbeatValue is published on system/heartbeat each interval.
type HeartbeatValue struct {
	Seq     uint32 `json:"seq"`
	UptimeS int64  `json:"uptime_s"`
	Mode    string `json:"mode"`
	Alarm   uint8  `json:"alarm,omitempty"`
}
