package epd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrGeometry is returned when a panel profile is internally inconsistent.
var ErrGeometry = errors.New("epd: invalid panel geometry")

// LUTSize is the length of a waveform table for this controller family.
const LUTSize = 70

// LUT contains the waveform that is used to program the display.
type LUT []byte

// Geometry describes the pixel layout of a panel model.
type Geometry struct {
	// VisibleWidth is the number of pixel columns on glass.
	VisibleWidth int
	// ControllerWidth is the controller's scan width. It can exceed the
	// visible width and is the row stride of the framebuffer.
	ControllerWidth int
	Height          int
}

// Validate checks the invariants the framebuffer relies on.
func (g Geometry) Validate() error {
	switch {
	case g.VisibleWidth <= 0 || g.Height <= 0:
		return fmt.Errorf("%w: %dx%d", ErrGeometry, g.VisibleWidth, g.Height)
	case g.ControllerWidth%8 != 0:
		return fmt.Errorf("%w: controller width %d is not a multiple of 8", ErrGeometry, g.ControllerWidth)
	case g.ControllerWidth < g.VisibleWidth:
		return fmt.Errorf("%w: controller width %d < visible width %d", ErrGeometry, g.ControllerWidth, g.VisibleWidth)
	}
	return nil
}

// BufferLength is the size in bytes of both planes together.
func (g Geometry) BufferLength() int {
	return g.ControllerWidth * g.Height / 4
}

// Calibration holds the opaque register values a panel model needs. None of
// them are computed; they come from the panel vendor.
type Calibration struct {
	DriverOutputMode byte
	BoosterSoftStart [3]byte
	VCOMInit         byte
	DummyLinePeriod  byte
	GateTime         byte
	DataEntryMode    byte
	RAMContentOption [2]byte

	VCOMFull    byte
	VCOMPartial byte

	// BorderReset is written first, then the per-mode border value.
	BorderReset   byte
	BorderFull    byte
	BorderPartial byte

	PingPong          [7]byte
	PartialPreUpdate  byte
	ActivationFull    byte
	ActivationPartial byte

	DeepSleepMode byte
}

// Profile is a closed description of one supported panel model.
type Profile struct {
	Name string
	Geometry
	Calibration

	// FullLUT drives full refreshes including the red plane.
	FullLUT LUT
	// PartialLUT drives partial refreshes. It is the vendor table and has not
	// been verified on hardware with the red plane.
	PartialLUT LUT

	// IdleTimeout bounds every busy wait.
	IdleTimeout time.Duration
	// PollInterval is the busy-line polling period.
	PollInterval time.Duration
	// ResetDuration is how long the reset line is held low on a hardware reset.
	ResetDuration time.Duration
	// InitResetPulse is the shorter reset pulse at the start of the init sequence.
	InitResetPulse time.Duration
}

// Validate checks geometry and table sizes.
func (p *Profile) Validate() error {
	if err := p.Geometry.Validate(); err != nil {
		return fmt.Errorf("epd: profile %q: %w", p.Name, err)
	}
	if len(p.FullLUT) != LUTSize || len(p.PartialLUT) != LUTSize {
		return fmt.Errorf("epd: profile %q: %w: LUT must be %d bytes (full=%d partial=%d)",
			p.Name, ErrGeometry, LUTSize, len(p.FullLUT), len(p.PartialLUT))
	}
	if p.IdleTimeout <= 0 || p.PollInterval <= 0 {
		return fmt.Errorf("epd: profile %q: idle timeout and poll interval must be positive", p.Name)
	}
	return nil
}

// InkyPHAT213BWR is the 2.13" black/white/red pHAT (SSD1675-class
// controller, 122x250 visible, 128 column scan width).
var InkyPHAT213BWR = Profile{
	Name: "2.13in-bwr",
	Geometry: Geometry{
		VisibleWidth:    122,
		ControllerWidth: 128,
		Height:          250,
	},
	Calibration: Calibration{
		DriverOutputMode: 0x00,
		BoosterSoftStart: [3]byte{0xD7, 0xD6, 0x9D},
		VCOMInit:         0xA8,
		DummyLinePeriod:  0x1A,
		GateTime:         0x08, // 2us per row
		DataEntryMode:    0x03, // X/Y increment, top left to bottom right
		RAMContentOption: [2]byte{0x00, 0x80},

		VCOMFull:    0x55,
		VCOMPartial: 0x26,

		BorderReset:   0x00,
		BorderFull:    0x01, // white
		BorderPartial: 0x01,

		PingPong:          [7]byte{0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00},
		PartialPreUpdate:  0xC0,
		ActivationFull:    0xC7,
		ActivationPartial: 0x0C,

		DeepSleepMode: 0x01,
	},
	FullLUT: LUT{
		0x48, 0xA0, 0x10, 0x10, 0x13, 0x00, 0x00, // LUT0: BB
		0x48, 0xA0, 0x80, 0x00, 0x03, 0x00, 0x00, // LUT1: BW
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT2: WB
		0x48, 0xA5, 0x00, 0xBB, 0x00, 0x00, 0x00, // LUT3: WW
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT4: VCOM

		0x40, 0x0C, 0x20, 0x0C, 0x06, // TP0 A~D RP0
		0x10, 0x08, 0x04, 0x04, 0x06, // TP1 A~D RP1
		0x04, 0x08, 0x08, 0x10, 0x10, // TP2 A~D RP2
		0x02, 0x02, 0x02, 0x40, 0x20, // TP3 A~D RP3
		0x02, 0x02, 0x02, 0x02, 0x02, // TP4 A~D RP4
		0x00, 0x00, 0x00, 0x00, 0x00, // TP5 A~D RP5
		0x00, 0x00, 0x00, 0x00, 0x00, // TP6 A~D RP6
	},
	// TODO: validate the partial table on real glass before relying on
	// partial refreshes with red content.
	PartialLUT: LUT{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT0: BB
		0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT1: BW
		0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT2: WB
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT3: WW
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // LUT4: VCOM

		0x0A, 0x00, 0x00, 0x00, 0x00, // TP0 A~D RP0
		0x00, 0x00, 0x00, 0x00, 0x00, // TP1 A~D RP1
		0x00, 0x00, 0x00, 0x00, 0x00, // TP2 A~D RP2
		0x00, 0x00, 0x00, 0x00, 0x00, // TP3 A~D RP3
		0x00, 0x00, 0x00, 0x00, 0x00, // TP4 A~D RP4
		0x00, 0x00, 0x00, 0x00, 0x00, // TP5 A~D RP5
		0x00, 0x00, 0x00, 0x00, 0x00, // TP6 A~D RP6
	},
	// Red refreshes are slow.
	IdleTimeout:    60 * time.Second,
	PollInterval:   time.Second,
	ResetDuration:  200 * time.Millisecond,
	InitResetPulse: 10 * time.Millisecond,
}

var profiles = map[string]*Profile{
	InkyPHAT213BWR.Name: &InkyPHAT213BWR,
}

// ProfileByName looks up a supported panel model.
func ProfileByName(name string) (*Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("epd: unknown panel model %q (supported: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames lists the supported panel models.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
