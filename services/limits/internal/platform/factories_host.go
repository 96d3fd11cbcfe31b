// services/limits/internal/platform/factories_host.go
//go:build !rp2040 && !rp2350 && !(linux && (arm || arm64))

package platform

import (
	"motioncode-go/services/limits/internal/halcore"

	"tinygo.org/x/drivers"
)

// DefaultI2CFactory creates inert host I²C buses "i2c0" and "i2c1".
func DefaultI2CFactory() halcore.I2CBusFactory {
	return I2CFactoryOf(map[string]drivers.I2C{
		"i2c0": &FakeI2C{},
		"i2c1": &FakeI2C{},
	})
}

// DefaultPinFactory provides fake GPIOs; switches are driven by a simulator.
func DefaultPinFactory() halcore.PinFactory { return NewFakePinFactory() }
