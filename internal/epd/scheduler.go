package epd

// Mode is the kind of refresh performed.
type Mode int

const (
	ModeFull Mode = iota
	ModePartial
)

func (m Mode) String() string {
	if m == ModePartial {
		return "partial"
	}
	return "full"
}

// Plan is the outcome of one scheduling step.
type Plan struct {
	// Slot is the counter value this refresh was scheduled at.
	Slot uint32
	Mode Mode
	// PrevFull is set on the first refresh after a full one.
	PrevFull bool
	// ReloadLUT is set when the waveform table in the controller does not
	// match Mode.
	ReloadLUT bool
}

// UpdateScheduler decides on the full/partial cadence. Every
// fullUpdateEvery-th refresh is a full one; the rest are partial. A
// fullUpdateEvery of zero disables the cadence and every refresh is full.
type UpdateScheduler struct {
	atUpdate        uint32
	fullUpdateEvery uint32

	loaded   Mode
	lutValid bool
}

func NewUpdateScheduler(fullUpdateEvery uint32) *UpdateScheduler {
	return &UpdateScheduler{fullUpdateEvery: fullUpdateEvery}
}

func (s *UpdateScheduler) AtUpdate() uint32        { return s.atUpdate }
func (s *UpdateScheduler) FullUpdateEvery() uint32 { return s.fullUpdateEvery }

// Next returns the mode of the next refresh without advancing.
func (s *UpdateScheduler) Next() Mode {
	if s.atUpdate == 0 {
		return ModeFull
	}
	return ModePartial
}

// Advance schedules one refresh and moves the counter forward. The LUT is
// recorded as loaded for the returned mode; callers that fail to upload it
// must call InvalidateLUT.
func (s *UpdateScheduler) Advance() Plan {
	p := Plan{
		Slot:     s.atUpdate,
		Mode:     s.Next(),
		PrevFull: s.atUpdate == 1,
	}
	p.ReloadLUT = !s.lutValid || s.loaded != p.Mode
	s.loaded = p.Mode
	s.lutValid = true

	if s.fullUpdateEvery > 0 {
		s.atUpdate = (s.atUpdate + 1) % s.fullUpdateEvery
	}
	return p
}

// InvalidateLUT forces the next refresh to upload its table, e.g. after the
// controller was reset.
func (s *UpdateScheduler) InvalidateLUT() {
	s.lutValid = false
}
