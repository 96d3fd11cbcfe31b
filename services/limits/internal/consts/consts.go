// services/limits/internal/consts/consts.go
package consts

// Topic tokens
const (
	TokConfig  = "config"
	TokMachine = "machine"
	TokLimits  = "limits"
	TokControl = "control"
	TokValue   = "value"
	TokState   = "state"
	TokStatus  = "status"
	TokAlarm   = "alarm"
)

// Control verbs on limits/control/<verb>
const (
	CtrlHome      = "home"
	CtrlHomeAll   = "home_all"
	CtrlUnlock    = "unlock"
	CtrlReset     = "reset"
	CtrlEnable    = "enable"
	CtrlDisable   = "disable"
	CtrlSoftCheck = "soft_check"
	CtrlState     = "state"
	CtrlStats     = "stats"
)

// Service levels on limits/status
const (
	LevelIdle    = "idle"
	LevelReady   = "ready"
	LevelError   = "error"
	LevelStopped = "stopped"
)

// AlarmLocked names an alarm raised at boot to force homing.
const AlarmLocked = "homing_required"
