package epd

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// HardwareConfig names the SPI port and GPIO lines, using periph.io names
// ("" for the default SPI port, "GPIO22" style names for pins).
type HardwareConfig struct {
	SPIPort string
	SPIFreq physic.Frequency

	CSPin    string // optional
	DCPin    string
	ResetPin string // optional
	BusyPin  string // optional
}

// Hardware holds the opened SPI port and resolved lines.
type Hardware struct {
	port spi.PortCloser

	Conn  spi.Conn
	CS    gpio.PinOut
	DC    gpio.PinOut
	Reset gpio.PinOut
	Busy  gpio.PinIn
}

// OpenHardware initializes periph.io, opens the SPI port and resolves the
// configured GPIO lines. Pins are not driven until Driver.Setup.
func OpenHardware(cfg HardwareConfig) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port %q: %w", cfg.SPIPort, err)
	}

	freq := cfg.SPIFreq
	if freq <= 0 {
		freq = 2 * physic.MegaHertz
	}
	c, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	hw := &Hardware{port: port, Conn: c}

	lookup := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %s not found", name)
		}
		return p, nil
	}

	if cfg.DCPin == "" {
		_ = port.Close()
		return nil, fmt.Errorf("epd: dc pin is required")
	}
	dc, err := lookup(cfg.DCPin)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	hw.DC = dc

	if cfg.CSPin != "" {
		cs, err := lookup(cfg.CSPin)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		hw.CS = cs
	}
	if cfg.ResetPin != "" {
		rst, err := lookup(cfg.ResetPin)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		hw.Reset = rst
	}
	if cfg.BusyPin != "" {
		busy, err := lookup(cfg.BusyPin)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		hw.Busy = busy
	}

	return hw, nil
}

// Opts returns driver options pre-filled with the opened lines.
func (hw *Hardware) Opts(p *Profile) Opts {
	return Opts{
		Profile: p,
		Conn:    hw.Conn,
		CS:      hw.CS,
		DC:      hw.DC,
		Reset:   hw.Reset,
		Busy:    hw.Busy,
	}
}

// Close releases the SPI port.
func (hw *Hardware) Close() error {
	if hw.port == nil {
		return nil
	}
	return hw.port.Close()
}
