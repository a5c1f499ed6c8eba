// Package battery reads the charge of a PiSugar-style UPS board over I2C.
// Battery-powered panels report it next to the display status.
package battery

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"inkyepd/internal/model"
)

// DefaultAddr is the PiSugar 3 I2C address.
const DefaultAddr = 0x57

// Registers
const (
	regVoltageHigh byte = 0x22
	regVoltageLow  byte = 0x23
	regPercent     byte = 0x2A
)

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (model.Battery, error)
}

// I2CReader talks to the battery controller on an I2C bus:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
type I2CReader struct {
	dev    *i2c.Dev
	closer i2c.BusCloser // nil when the bus is owned by the caller
}

// NewI2CReader reads from addr on an already opened bus.
func NewI2CReader(bus i2c.Bus, addr uint16) *I2CReader {
	return &I2CReader{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// Open opens the named I2C bus ("" for the first one) and returns a reader
// that owns it. host.Init must have been called.
func Open(busName string, addr uint16) (*I2CReader, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("battery: open i2c bus %q: %w", busName, err)
	}
	r := NewI2CReader(bus, addr)
	r.closer = bus
	return r, nil
}

// Read implements Reader.
func (r *I2CReader) Read(ctx context.Context) (model.Battery, error) {
	var regs [3]byte
	for i, reg := range []byte{regVoltageHigh, regVoltageLow, regPercent} {
		if err := ctx.Err(); err != nil {
			return model.Battery{}, err
		}
		buf := []byte{0}
		if err := r.dev.Tx([]byte{reg}, buf); err != nil {
			return model.Battery{}, fmt.Errorf("battery: read register %#02x: %w", reg, err)
		}
		regs[i] = buf[0]
	}

	pct := min(int(regs[2]), 100)
	return model.Battery{
		Percent:   pct,
		VoltageMv: int(uint16(regs[0])<<8 | uint16(regs[1])),
	}, nil
}

// Close releases the bus if the reader opened it.
func (r *I2CReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
