// Package epd drives a black/white/red e-paper panel over SPI using periph.io.
//
// The Driver owns an off-screen FrameBuffer, decides between full and partial
// refreshes with an UpdateScheduler, and pushes the buffer to the controller
// with the command sequences of the selected Profile. All operations run
// synchronously on the caller's goroutine; a Driver must not be used from
// more than one goroutine at a time.
package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	appLog "inkyepd/internal/log"
	"inkyepd/internal/model"
)

var (
	// ErrIdleTimeout means the busy line did not clear in time. The refresh
	// was abandoned and may be retried.
	ErrIdleTimeout = errors.New("epd: timeout waiting for idle")
	// ErrNotSetup is returned when the panel is used before Setup.
	ErrNotSetup = errors.New("epd: driver not set up")
)

// PanelState is the driver's view of the controller.
type PanelState int

const (
	StateUninitialized PanelState = iota
	StateIdle
	StateBusy
	StateSleeping
)

func (s PanelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateSleeping:
		return "sleeping"
	default:
		return "uninitialized"
	}
}

// Writer repaints the framebuffer before each refresh.
type Writer interface {
	Draw(fb *FrameBuffer) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(fb *FrameBuffer) error

func (f WriterFunc) Draw(fb *FrameBuffer) error { return f(fb) }

// Opts configures a Driver.
type Opts struct {
	Profile *Profile

	Conn spi.Conn
	// CS is an optional manually driven chip select line.
	CS gpio.PinOut
	DC gpio.PinOut
	// Reset and Busy are optional.
	Reset gpio.PinOut
	Busy  gpio.PinIn

	Clock    Clock
	Liveness Liveness

	// FullUpdateEvery sets the refresh cadence; 0 means every refresh is full.
	FullUpdateEvery uint32
	// DeepSleepBetweenUpdates puts the panel to sleep after each refresh and
	// wakes it with a reset before the next one. Requires a reset line.
	DeepSleepBetweenUpdates bool

	// IdleTimeout and PollInterval override the profile values when non-zero.
	IdleTimeout  time.Duration
	PollInterval time.Duration

	Writer Writer
}

// Driver is the display-update engine for one panel.
type Driver struct {
	profile *Profile
	proto   *protocol
	gate    *BusyGate
	sched   *UpdateScheduler
	fb      *FrameBuffer
	writer  Writer
	clock   Clock

	cs, dc, rst gpio.PinOut
	busy        gpio.PinIn

	deepSleepBetweenUpdates bool
	idleTimeout             time.Duration

	state      PanelState
	warning    bool
	lastErr    error
	lastMode   Mode
	lastUpdate time.Time
	updates    uint64
	failures   uint64
}

// New validates the options and allocates the framebuffer. It does not touch
// the hardware; call Setup for that.
func New(o Opts) (*Driver, error) {
	if o.Profile == nil {
		return nil, errors.New("epd: profile is required")
	}
	if err := o.Profile.Validate(); err != nil {
		return nil, err
	}
	if o.Conn == nil || o.DC == nil {
		return nil, errors.New("epd: spi connection and dc line are required")
	}

	fb, err := NewFrameBuffer(o.Profile.Geometry)
	if err != nil {
		return nil, err
	}

	clock := o.Clock
	if clock == nil {
		clock = SystemClock
	}
	timeout := o.IdleTimeout
	if timeout <= 0 {
		timeout = o.Profile.IdleTimeout
	}
	poll := o.PollInterval
	if poll <= 0 {
		poll = o.Profile.PollInterval
	}

	deepSleep := o.DeepSleepBetweenUpdates
	if deepSleep && o.Reset == nil {
		appLog.Warn("deep sleep between updates needs a reset line; disabled")
		deepSleep = false
	}

	gate := NewBusyGate(o.Busy, gpio.High, clock, o.Liveness, poll)
	d := &Driver{
		profile: o.Profile,
		proto: &protocol{
			t:     newTransport(o.Conn, o.CS, o.DC),
			p:     o.Profile,
			rst:   o.Reset,
			gate:  gate,
			clock: clock,
		},
		gate:   gate,
		sched:  NewUpdateScheduler(o.FullUpdateEvery),
		fb:     fb,
		writer: o.Writer,
		clock:  clock,

		cs:   o.CS,
		dc:   o.DC,
		rst:  o.Reset,
		busy: o.Busy,

		deepSleepBetweenUpdates: deepSleep,
		idleTimeout:             timeout,
	}
	return d, nil
}

// FrameBuffer exposes the drawing surface.
func (d *Driver) FrameBuffer() *FrameBuffer { return d.fb }

// SetWriter replaces the writer called by Update.
func (d *Driver) SetWriter(w Writer) { d.writer = w }

// Setup configures the lines, resets and initializes the panel.
func (d *Driver) Setup() error {
	if err := d.setupPins(); err != nil {
		return err
	}
	if err := d.proto.hardReset(d.profile.ResetDuration); err != nil {
		return err
	}
	if err := d.proto.initialize(d.idleTimeout); err != nil {
		return err
	}
	d.sched.InvalidateLUT()
	d.state = StateIdle
	d.LogConfig()

	if d.deepSleepBetweenUpdates {
		appLog.Info("putting panel to deep sleep between updates")
		return d.Sleep()
	}
	return nil
}

func (d *Driver) setupPins() error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: dc line: %w", err)
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.High); err != nil {
			return fmt.Errorf("epd: cs line: %w", err)
		}
	}
	if d.rst != nil {
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("epd: reset line: %w", err)
		}
	}
	if d.busy != nil {
		if err := d.busy.In(gpio.Float, gpio.NoEdge); err != nil {
			return fmt.Errorf("epd: busy line: %w", err)
		}
	}
	return nil
}

// Fill sets the whole framebuffer to c.
func (d *Driver) Fill(c Color) { d.fb.Fill(c) }

// SetPixel sets one framebuffer pixel; out-of-range coordinates are ignored.
func (d *Driver) SetPixel(x, y int, c Color) { d.fb.SetPixel(x, y, c) }

// Update asks the writer to repaint the framebuffer, then refreshes the panel.
func (d *Driver) Update() error {
	if d.state == StateUninitialized {
		return ErrNotSetup
	}
	if d.writer != nil {
		if err := d.writer.Draw(d.fb); err != nil {
			return fmt.Errorf("epd: writer: %w", err)
		}
	}
	return d.Display()
}

// Display pushes the framebuffer to the panel and starts a refresh. On an
// idle timeout the sequence is abandoned, the warning status is set and the
// framebuffer is left intact for the next attempt.
func (d *Driver) Display() error {
	if d.state == StateUninitialized {
		return ErrNotSetup
	}
	if d.state == StateSleeping {
		appLog.Info("waking panel")
		if err := d.wake(); err != nil {
			return d.fail(err)
		}
	}

	if !d.gate.WaitUntilIdle(d.idleTimeout) {
		return d.fail(fmt.Errorf("%w before refresh", ErrIdleTimeout))
	}

	plan := d.sched.Advance()
	cal := d.profile.Calibration
	full := plan.Mode == ModeFull
	appLog.Debug("refresh planned", "mode", plan.Mode, "slot", plan.Slot, "reload_lut", plan.ReloadLUT)

	s := d.proto.seq()
	if plan.ReloadLUT {
		if full {
			s.writeLUT(d.profile.FullLUT)
		} else {
			s.writeLUT(d.profile.PartialLUT)
		}
		if s.err != nil {
			d.sched.InvalidateLUT()
		}
	}

	s.command(writeVcomRegister)
	s.data(pick(full, cal.VCOMFull, cal.VCOMPartial))

	if !full {
		// Ping-pong RAM for partial refresh.
		s.command(writeDisplayOption)
		s.data(cal.PingPong[:]...)
		s.activate(cal.PartialPreUpdate)
	}

	s.command(borderWaveformControl)
	s.data(cal.BorderReset)
	s.command(borderWaveformControl)
	s.data(pick(full, cal.BorderFull, cal.BorderPartial))

	s.setFullWindow(d.profile.Geometry)
	if s.err != nil {
		return d.fail(s.err)
	}

	if !d.gate.WaitUntilIdle(d.idleTimeout) {
		return d.fail(fmt.Errorf("%w before RAM write", ErrIdleTimeout))
	}

	d.state = StateBusy
	s.writeRAM(d.fb)
	s.activate(pick(full, cal.ActivationFull, cal.ActivationPartial))
	s.command(terminateFrameReadWrite)
	if s.err != nil {
		return d.fail(s.err)
	}

	d.warning = false
	d.lastErr = nil
	d.lastMode = plan.Mode
	d.lastUpdate = d.clock.Now()
	d.updates++
	appLog.Debug("refresh started", "mode", plan.Mode, "updates", d.updates)

	if d.deepSleepBetweenUpdates {
		if err := d.Sleep(); err != nil {
			appLog.Warn("failed to put panel back to sleep", "err", err)
		}
	}
	return nil
}

func pick(full bool, a, b byte) byte {
	if full {
		return a
	}
	return b
}

func (d *Driver) fail(err error) error {
	d.warning = true
	d.lastErr = err
	d.failures++
	if errors.Is(err, ErrIdleTimeout) {
		d.state = StateBusy
	}
	appLog.Warn("refresh abandoned", "err", err, "failures", d.failures)
	return err
}

func (d *Driver) wake() error {
	if err := d.proto.hardReset(d.profile.ResetDuration); err != nil {
		return err
	}
	if !d.gate.WaitUntilIdle(d.idleTimeout) {
		return fmt.Errorf("%w after wake reset", ErrIdleTimeout)
	}
	if err := d.proto.initialize(d.idleTimeout); err != nil {
		return err
	}
	d.sched.InvalidateLUT()
	d.state = StateIdle
	return nil
}

// Sleep waits for the current refresh to finish and puts the controller into
// deep sleep. Only a hardware reset wakes it again, so a reset line is
// required. The next Display wakes the panel automatically.
func (d *Driver) Sleep() error {
	if d.state == StateUninitialized {
		return ErrNotSetup
	}
	if d.state == StateSleeping {
		return nil
	}
	if d.rst == nil {
		return errors.New("epd: deep sleep needs a reset line to wake")
	}
	if !d.gate.WaitUntilIdle(d.idleTimeout) {
		return fmt.Errorf("%w before deep sleep", ErrIdleTimeout)
	}
	if err := d.proto.deepSleep(); err != nil {
		return err
	}
	d.state = StateSleeping
	d.sched.InvalidateLUT()
	return nil
}

// Shutdown is called before the process exits. With sleep set and a reset
// line wired, the panel is put to deep sleep.
func (d *Driver) Shutdown(sleep bool) error {
	if !sleep || d.rst == nil || d.state == StateUninitialized {
		return nil
	}
	return d.Sleep()
}

// State returns the current panel state. A refresh in progress is reported as
// busy until the busy line clears.
func (d *Driver) State() PanelState {
	if d.state == StateBusy && !d.gate.Busy() {
		return StateIdle
	}
	return d.state
}

// Warning reports whether the last refresh failed.
func (d *Driver) Warning() bool { return d.warning }

// Status returns a snapshot for the status API.
func (d *Driver) Status() model.Status {
	st := model.Status{
		Model:                   d.profile.Name,
		Width:                   d.profile.VisibleWidth,
		ControllerWidth:         d.profile.ControllerWidth,
		Height:                  d.profile.Height,
		State:                   d.State().String(),
		AtUpdate:                d.sched.AtUpdate(),
		FullUpdateEvery:         d.sched.FullUpdateEvery(),
		NextMode:                d.sched.Next().String(),
		DeepSleepBetweenUpdates: d.deepSleepBetweenUpdates,
		Warning:                 d.warning,
		Updates:                 d.updates,
		Failures:                d.failures,
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	if !d.lastUpdate.IsZero() {
		t := d.lastUpdate
		st.LastUpdate = &t
		st.LastMode = d.lastMode.String()
	}
	return st
}

// LogConfig dumps the driver configuration.
func (d *Driver) LogConfig() {
	appLog.Info("e-paper display",
		"model", d.profile.Name,
		"width", d.profile.VisibleWidth,
		"controller_width", d.profile.ControllerWidth,
		"height", d.profile.Height,
		"buffer_bytes", d.fb.Len(),
		"full_update_every", d.sched.FullUpdateEvery(),
		"deep_sleep_between_updates", d.deepSleepBetweenUpdates,
		"idle_timeout", d.idleTimeout,
		"dc", pinName(d.dc),
		"cs", pinName(d.cs),
		"reset", pinName(d.rst),
		"busy", pinName(d.busy),
	)
}

func pinName(p interface{ Name() string }) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}
