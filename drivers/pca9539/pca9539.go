// Package pca9539 provides a driver for the PCA9539 16-bit I2C GPIO
// expander, used here as an input expander for limit switches.
//
// The device asserts its open-drain INT line whenever an input differs
// from the last value read from the input port; reading the port clears it.
// Reads happen in task context only. The last read is cached so that
// Cached()/Pin() may be called from an ISR.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package pca9539

import (
	"errors"
	"sync/atomic"

	"tinygo.org/x/drivers"
)

// Address range selected by A0/A1 straps.
const (
	AddressLow  = 0x74
	AddressHigh = 0x77
)

// Register map: each register has a port 0 and port 1 copy.
const (
	regInput0    = 0x00
	regOutput0   = 0x02
	regPolarity0 = 0x04
	regConfig0   = 0x06
)

// NumPins is the number of I/O lines on the device.
const NumPins = 16

var (
	ErrAddress = errors.New("pca9539: address out of range")
	ErrPin     = errors.New("pca9539: pin out of range")
)

// Config controls initial register state. All fields are optional.
type Config struct {
	// Inputs selects which lines are inputs (bit set). Zero means all.
	Inputs uint16
	// Invert sets the polarity inversion register for inputs.
	Invert uint16
}

// Device wraps an I2C connection to a PCA9539.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cached atomic.Uint32 // last input port value (16 bits)
	buf    [3]byte
}

// New creates a Device. The I2C bus must already be configured.
func New(bus drivers.I2C, addr uint16) (*Device, error) {
	if addr < AddressLow || addr > AddressHigh {
		return nil, ErrAddress
	}
	return &Device{bus: bus, Address: addr}, nil
}

// Configure writes direction and polarity, then primes the input cache.
func (d *Device) Configure(cfg Config) error {
	in := cfg.Inputs
	if in == 0 {
		in = 0xFFFF
	}
	if err := d.write16(regConfig0, in); err != nil {
		return err
	}
	if err := d.write16(regPolarity0, cfg.Invert&in); err != nil {
		return err
	}
	_, err := d.ReadInputs()
	return err
}

// ReadInputs reads both input ports (clearing INT) and updates the cache.
func (d *Device) ReadInputs() (uint16, error) {
	v, err := d.read16(regInput0)
	if err != nil {
		return 0, err
	}
	d.cached.Store(uint32(v))
	return v, nil
}

// Cached returns the last value read by ReadInputs. ISR-safe.
func (d *Device) Cached() uint16 { return uint16(d.cached.Load()) }

// Pin returns the cached level of line n. ISR-safe.
func (d *Device) Pin(n int) (bool, error) {
	if n < 0 || n >= NumPins {
		return false, ErrPin
	}
	return d.Cached()&(1<<uint(n)) != 0, nil
}

func (d *Device) write16(reg uint8, v uint16) error {
	d.buf[0] = reg
	d.buf[1] = byte(v)
	d.buf[2] = byte(v >> 8)
	return d.bus.Tx(d.Address, d.buf[:3], nil)
}

// The register pointer auto-increments between port 0 and port 1.
func (d *Device) read16(reg uint8) (uint16, error) {
	w := [1]byte{reg}
	var r [2]byte
	if err := d.bus.Tx(d.Address, w[:], r[:]); err != nil {
		return 0, err
	}
	return uint16(r[0]) | uint16(r[1])<<8, nil
}
