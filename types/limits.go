package types

// ---- Retained state ----

// LimitsValue is published on limits/value whenever switch, arming or
// homed state changes.
type LimitsValue struct {
	Asserted string    `json:"asserted"` // axis letters, "-" when none
	Armed    string    `json:"armed"`
	Homed    string    `json:"homed"`
	Gangs    []uint8   `json:"gangs"`          // per-gang raw masks
	MPos     []float64 `json:"mpos,omitempty"` // machine position when sampled
	TS       int64     `json:"ts_ms"`
}

type MachineStateValue struct {
	Mode      string `json:"mode"`
	Alarm     uint8  `json:"alarm"`
	AlarmName string `json:"alarm_name,omitempty"`
	AlarmAxes string `json:"alarm_axes,omitempty"`
	TS        int64  `json:"ts_ms"`
}

// ServiceState is the retained lifecycle of a service.
type ServiceState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// ---- Events ----

type AlarmEvent struct {
	Code uint8  `json:"code"`
	Name string `json:"name"`
	Axes string `json:"axes"`
	TS   int64  `json:"ts_ms"`
}

// ---- Controls ----

type HomeRequest struct {
	Axes         string `json:"axes"` // empty means every homing axis
	LocateCycles *int   `json:"locate_cycles,omitempty"`
}

type SoftCheckRequest struct {
	Target []float64 `json:"target"`
}

type SoftCheckReply struct {
	OK     bool      `json:"ok"`
	Axes   string    `json:"axes,omitempty"` // violating axes
	Target []float64 `json:"target,omitempty"`
}

// LimitsStats answers limits/control/stats.
type LimitsStats struct {
	ISR            uint32 `json:"isr"`
	Posts          uint32 `json:"posts"`
	Trips          uint32 `json:"trips"`
	Bounces        uint32 `json:"bounces"`
	ExpanderErrors uint32 `json:"expander_errors"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`            // errcode.Code
	Detail string `json:"detail,omitempty"` // full error text
}
