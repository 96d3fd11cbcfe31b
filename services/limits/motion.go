// services/limits/motion.go
package limits

import (
	"context"

	"motioncode-go/cnc"
	"motioncode-go/services/limits/internal/sim"
)

// Motion is the subset of the motion engine used by limits and homing.
// Coordinates are machine coordinates in mm, rates in mm/min.
type Motion interface {
	// Move starts a linear move of axes toward target. The channel closes
	// when the move completes or is stopped.
	Move(axes cnc.AxisMask, target []float64, feedRate float64) (<-chan struct{}, error)
	// StopAxes halts individual axes of the active move.
	StopAxes(axes cnc.AxisMask)
	// Stop aborts all motion immediately.
	Stop()
	Moving() bool
	Position() []float64
	// SetPosition redefines the machine coordinate of axis in place.
	SetPosition(axis int, pos float64)
}

// OpenLoopMotion is a MotionFactory for boards with real switches but no
// step generator attached: positions advance in real time and the wired
// switches alone end homing moves.
func OpenLoopMotion(ctx context.Context, n int) Motion {
	m := sim.New(n, sim.WithTiming(sim.DefaultTick, 1))
	m.Start(ctx)
	return m
}
