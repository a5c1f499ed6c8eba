package epd

import (
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// recordingConn records every SPI transfer together with the level of the
// DC and CS lines at the time of the transfer.
type recordingConn struct {
	dc  gpio.PinIn
	cs  gpio.PinIn // optional
	txs []recordedTx
	err error
}

type recordedTx struct {
	dc gpio.Level
	cs gpio.Level
	p  []byte
}

func (c *recordingConn) String() string      { return "recordingConn" }
func (c *recordingConn) Duplex() conn.Duplex { return conn.Half }

func (c *recordingConn) Tx(w, r []byte) error {
	if c.err != nil {
		return c.err
	}
	tx := recordedTx{dc: c.dc.Read(), cs: gpio.Low, p: append([]byte(nil), w...)}
	if c.cs != nil {
		tx.cs = c.cs.Read()
	}
	c.txs = append(c.txs, tx)
	return nil
}

func (c *recordingConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if err := c.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

func (c *recordingConn) reset() { c.txs = nil }

// op is one command with the data bytes that followed it.
type op struct {
	cmd  byte
	data []byte
}

// ops folds the recorded transfers into commands.
func (c *recordingConn) ops(t *testing.T) []op {
	t.Helper()
	var out []op
	for _, tx := range c.txs {
		if tx.dc == gpio.Low {
			for _, b := range tx.p {
				out = append(out, op{cmd: b})
			}
			continue
		}
		if len(out) == 0 {
			t.Fatalf("data %x sent before any command", tx.p)
		}
		last := &out[len(out)-1]
		last.data = append(last.data, tx.p...)
	}
	return out
}

func commands(ops []op) []byte {
	out := make([]byte, len(ops))
	for i, o := range ops {
		out[i] = o.cmd
	}
	return out
}

func countCmd(ops []op, cmd byte) int {
	n := 0
	for _, o := range ops {
		if o.cmd == cmd {
			n++
		}
	}
	return n
}

func findCmd(ops []op, cmd byte) (op, bool) {
	for _, o := range ops {
		if o.cmd == cmd {
			return o, true
		}
	}
	return op{}, false
}

// busyPin is a scriptable busy line. Reads consume script first; with toggle
// set the line then alternates busy/idle on every read, so each wait sees
// the panel busy exactly once; otherwise the embedded pin level is returned.
type busyPin struct {
	*gpiotest.Pin
	script []gpio.Level
	toggle bool
	reads  int
}

func newBusyPin() *busyPin {
	return &busyPin{Pin: &gpiotest.Pin{N: "BUSY", Num: 17, L: gpio.Low}}
}

func (p *busyPin) Read() gpio.Level {
	p.reads++
	if len(p.script) > 0 {
		l := p.script[0]
		p.script = p.script[1:]
		return l
	}
	if p.toggle {
		if p.reads%2 == 1 {
			return gpio.High
		}
		return gpio.Low
	}
	return p.Pin.Read()
}

func (p *busyPin) stick() { p.Pin.L = gpio.High }

type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
}

type fakeLiveness struct {
	yields, resets int
}

func (l *fakeLiveness) Yield()         { l.yields++ }
func (l *fakeLiveness) ResetWatchdog() { l.resets++ }

type testRig struct {
	d     *Driver
	conn  *recordingConn
	dc    *gpiotest.Pin
	cs    *gpiotest.Pin
	rst   *gpiotest.Pin
	busy  *busyPin
	clock *fakeClock
	live  *fakeLiveness
}

// newRig builds a driver over fake hardware. mutate may adjust the options
// before the driver is created.
func newRig(t *testing.T, fullUpdateEvery uint32, mutate func(*Opts)) *testRig {
	t.Helper()
	r := &testRig{
		dc:    &gpiotest.Pin{N: "DC", Num: 22},
		cs:    &gpiotest.Pin{N: "CS", Num: 8, L: gpio.High},
		rst:   &gpiotest.Pin{N: "RST", Num: 27, L: gpio.High},
		busy:  newBusyPin(),
		clock: newFakeClock(),
		live:  &fakeLiveness{},
	}
	r.conn = &recordingConn{dc: r.dc, cs: r.cs}

	o := Opts{
		Profile:         &InkyPHAT213BWR,
		Conn:            r.conn,
		CS:              r.cs,
		DC:              r.dc,
		Reset:           r.rst,
		Busy:            r.busy,
		Clock:           r.clock,
		Liveness:        r.live,
		FullUpdateEvery: fullUpdateEvery,
	}
	if mutate != nil {
		mutate(&o)
	}

	d, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.d = d
	return r
}

func (r *testRig) setup(t *testing.T) {
	t.Helper()
	if err := r.d.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	r.conn.reset()
}
