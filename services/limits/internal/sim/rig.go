package sim

import (
	"motioncode-go/services/limits/internal/platform"
	"motioncode-go/types"
)

// Rig builds a simulator shaped like cfg. Every MCU-pin gang gets a
// switch at its axis' homing end (the positive end for axes that do not
// home) and each axis starts mid-travel. Expander gangs have no fake pin
// and are left unwired.
func Rig(cfg types.MachineConfig, pins *platform.FakePinFactory, opts ...Option) *Motion {
	m := New(len(cfg.Axes), opts...)
	for i, ac := range cfg.Axes {
		positive := ac.Homing == nil || ac.Homing.PositiveDirection
		end := ac.MaxTravel
		if !positive {
			end = -end
		}
		m.Place(i, end/2)
		for _, g := range ac.Gangs {
			if g.Pin == nil || g.Expander != "" {
				continue
			}
			m.AddSwitch(Switch{
				Axis:      i,
				At:        end,
				Positive:  positive,
				Pin:       pins.Pin(*g.Pin),
				ActiveLow: g.ActiveLow,
			})
		}
	}
	return m
}
