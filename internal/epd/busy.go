package epd

import (
	"runtime"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "inkyepd/internal/log"
)

// Clock abstracts time so busy waits and reset pulses can be faked in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Liveness is signalled on every iteration of a long busy wait. A red
// refresh can take tens of seconds and the process must not look hung.
type Liveness interface {
	Yield()
	ResetWatchdog()
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type yieldOnly struct{}

func (yieldOnly) Yield()         { runtime.Gosched() }
func (yieldOnly) ResetWatchdog() {}

// BusyGate polls the panel's busy line.
type BusyGate struct {
	pin    gpio.PinIn // nil when the line is not wired
	active gpio.Level
	clock  Clock
	live   Liveness
	poll   time.Duration
}

// NewBusyGate builds a gate over pin, which reads active while the panel is
// busy. pin may be nil, in which case every wait succeeds immediately.
func NewBusyGate(pin gpio.PinIn, active gpio.Level, clock Clock, live Liveness, poll time.Duration) *BusyGate {
	if clock == nil {
		clock = SystemClock
	}
	if live == nil {
		live = yieldOnly{}
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &BusyGate{pin: pin, active: active, clock: clock, live: live, poll: poll}
}

// Busy reports whether the panel currently asserts its busy line.
func (g *BusyGate) Busy() bool {
	return g.pin != nil && g.pin.Read() == g.active
}

// WaitUntilIdle blocks until the busy line clears or timeout elapses. It
// returns false on timeout; the caller must abandon the sequence in progress.
func (g *BusyGate) WaitUntilIdle(timeout time.Duration) bool {
	if !g.Busy() {
		return true
	}

	start := g.clock.Now()
	warned := false
	for g.Busy() {
		elapsed := g.clock.Now().Sub(start)
		if elapsed >= timeout {
			appLog.Warn("timeout waiting for busy line", "elapsed", elapsed, "timeout", timeout)
			return false
		}
		if !warned && elapsed >= timeout/2 {
			appLog.Warn("long wait for busy line", "elapsed", elapsed, "timeout", timeout)
			warned = true
		}

		g.live.ResetWatchdog()
		g.live.Yield()
		g.clock.Sleep(min(g.poll, timeout-elapsed))
	}

	appLog.Debug("busy line cleared", "elapsed", g.clock.Now().Sub(start))
	return true
}
