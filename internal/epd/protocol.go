package epd

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Commands
const (
	driverOutputControl            byte = 0x01
	boosterSoftStartControl        byte = 0x0C
	deepSleepMode                  byte = 0x10
	dataEntryModeSetting           byte = 0x11
	swReset                        byte = 0x12
	masterActivation               byte = 0x20
	displayUpdateControl1          byte = 0x21
	displayUpdateControl2          byte = 0x22
	writeRAMBW                     byte = 0x24
	writeRAMRed                    byte = 0x26
	writeVcomRegister              byte = 0x2C
	writeLutRegister               byte = 0x32
	writeDisplayOption             byte = 0x37
	setDummyLinePeriod             byte = 0x3A
	setGateTime                    byte = 0x3B
	borderWaveformControl          byte = 0x3C
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
	terminateFrameReadWrite        byte = 0xFF
)

// defaultMaxTx is used when the SPI connection does not report a limit.
// It matches the spidev default buffer size.
const defaultMaxTx = 4096

// transport owns the SPI connection and the select lines. Every command or
// data transfer holds mu for its whole duration so two transfers never
// interleave on the bus.
type transport struct {
	mu    sync.Mutex
	conn  spi.Conn
	cs    gpio.PinOut // optional; nil when the SPI driver handles chip select
	dc    gpio.PinOut
	maxTx int
}

func newTransport(c spi.Conn, cs, dc gpio.PinOut) *transport {
	t := &transport{conn: c, cs: cs, dc: dc, maxTx: defaultMaxTx}
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		t.maxTx = l.MaxTxSize()
	}
	return t
}

func (t *transport) begin() error {
	t.mu.Lock()
	if t.cs != nil {
		if err := t.cs.Out(gpio.Low); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("epd: chip select: %w", err)
		}
	}
	return nil
}

func (t *transport) end() error {
	defer t.mu.Unlock()
	if t.cs != nil {
		if err := t.cs.Out(gpio.High); err != nil {
			return fmt.Errorf("epd: chip select: %w", err)
		}
	}
	return nil
}

func (t *transport) write(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), t.maxTx)
		if err := t.conn.Tx(p[:n], nil); err != nil {
			return fmt.Errorf("epd: spi tx: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// transfer runs one select-bracketed transaction. The DC line is set to the
// level of each segment before the segment is written.
func (t *transport) transfer(segments ...segment) (err error) {
	if err := t.begin(); err != nil {
		return err
	}
	defer func() {
		if endErr := t.end(); err == nil {
			err = endErr
		}
	}()
	for _, s := range segments {
		if err := t.dc.Out(s.dc); err != nil {
			return fmt.Errorf("epd: dc line: %w", err)
		}
		if err := t.write(s.p); err != nil {
			return err
		}
	}
	return nil
}

type segment struct {
	dc gpio.Level
	p  []byte
}

func (t *transport) command(op byte) error {
	return t.transfer(segment{gpio.Low, []byte{op}})
}

func (t *transport) data(p ...byte) error {
	return t.transfer(segment{gpio.High, p})
}

// commandData sends the opcode and its data in one transaction.
func (t *transport) commandData(op byte, p ...byte) error {
	return t.transfer(segment{gpio.Low, []byte{op}}, segment{gpio.High, p})
}

// sequence latches the first transport error of a command sequence; later
// sends become no-ops.
type sequence struct {
	t   *transport
	err error
}

func (s *sequence) command(op byte) {
	if s.err == nil {
		s.err = s.t.command(op)
	}
}

func (s *sequence) data(p ...byte) {
	if s.err == nil {
		s.err = s.t.data(p...)
	}
}

func (s *sequence) commandData(op byte, p ...byte) {
	if s.err == nil {
		s.err = s.t.commandData(op, p...)
	}
}

// protocol emits the controller's command sequences.
type protocol struct {
	t     *transport
	p     *Profile
	rst   gpio.PinOut // optional
	gate  *BusyGate
	clock Clock
}

func (pr *protocol) seq() *sequence {
	return &sequence{t: pr.t}
}

// hardReset holds the reset line low for d. It is a no-op without a reset line.
func (pr *protocol) hardReset(d time.Duration) error {
	if pr.rst == nil {
		return nil
	}
	if err := pr.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: reset line: %w", err)
	}
	pr.clock.Sleep(d)
	if err := pr.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("epd: reset line: %w", err)
	}
	pr.clock.Sleep(20 * time.Millisecond)
	return nil
}

// initialize runs the controller init sequence: reset pulse, software reset,
// then the fixed register program of the profile.
func (pr *protocol) initialize(timeout time.Duration) error {
	if pr.rst != nil {
		if err := pr.rst.Out(gpio.Low); err != nil {
			return fmt.Errorf("epd: reset line: %w", err)
		}
		pr.clock.Sleep(pr.p.InitResetPulse)
		if err := pr.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("epd: reset line: %w", err)
		}
		pr.clock.Sleep(pr.p.InitResetPulse)
		if !pr.gate.WaitUntilIdle(timeout) {
			return fmt.Errorf("%w after reset", ErrIdleTimeout)
		}
	}

	if err := pr.t.command(swReset); err != nil {
		return err
	}
	if !pr.gate.WaitUntilIdle(timeout) {
		return fmt.Errorf("%w after software reset", ErrIdleTimeout)
	}

	cal := pr.p.Calibration
	last := pr.p.Height - 1

	s := pr.seq()
	s.command(driverOutputControl)
	s.data(byte(last), byte(last>>8), cal.DriverOutputMode)

	s.command(boosterSoftStartControl)
	s.data(cal.BoosterSoftStart[:]...)

	s.command(writeVcomRegister)
	s.data(cal.VCOMInit)

	s.command(setDummyLinePeriod)
	s.data(cal.DummyLinePeriod)

	s.command(setGateTime)
	s.data(cal.GateTime)

	s.command(dataEntryModeSetting)
	s.data(cal.DataEntryMode)

	s.command(displayUpdateControl1)
	s.data(cal.RAMContentOption[:]...)

	if s.err != nil {
		return fmt.Errorf("epd: init sequence: %w", s.err)
	}
	return nil
}

// writeLUT uploads a waveform table in a single transaction.
func (s *sequence) writeLUT(lut LUT) {
	s.commandData(writeLutRegister, lut...)
}

// setFullWindow programs the RAM address window to the whole panel and
// resets the address counters to the origin.
func (s *sequence) setFullWindow(g Geometry) {
	xEnd := (g.VisibleWidth - 1) >> 3
	yEnd := g.Height - 1

	s.command(setRAMXAddressStartEndPosition)
	s.data(0x00, byte(xEnd))

	s.command(setRAMYAddressStartEndPosition)
	s.data(0x00, 0x00, byte(yEnd), byte(yEnd>>8))

	s.command(setRAMXAddressCounter)
	s.data(0x00)

	s.command(setRAMYAddressCounter)
	s.data(0x00, 0x00)
}

// writeRAM streams both planes of the framebuffer.
func (s *sequence) writeRAM(fb *FrameBuffer) {
	s.command(writeRAMBW)
	s.data(fb.BlackPlane()...)
	s.command(writeRAMRed)
	s.data(fb.RedPlane()...)
}

func (s *sequence) activate(updateControl byte) {
	s.command(displayUpdateControl2)
	s.data(updateControl)
	s.command(masterActivation)
}

func (pr *protocol) deepSleep() error {
	return pr.t.commandData(deepSleepMode, pr.p.DeepSleepMode)
}
