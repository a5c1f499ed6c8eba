// Package watchdog keeps a systemd service watchdog fed during long panel
// operations and yields to the Go scheduler.
package watchdog

import (
	"runtime"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	appLog "inkyepd/internal/log"
)

// Notifier implements epd.Liveness. With systemd notifications disabled it
// only yields.
type Notifier struct {
	enabled bool
	notify  func(state string) (bool, error)
}

// New returns a Notifier. When enabled is false, or the process is not run
// under a systemd unit with NOTIFY_SOCKET, keep-alives are dropped silently.
func New(enabled bool) *Notifier {
	return &Notifier{
		enabled: enabled,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Interval returns the watchdog interval configured by systemd, or 0 when
// the watchdog is disabled.
func (n *Notifier) Interval() time.Duration {
	if !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		appLog.Error("reading systemd watchdog interval failed", err)
		return 0
	}
	return d
}

// Yield lets other goroutines run.
func (n *Notifier) Yield() { runtime.Gosched() }

// ResetWatchdog sends WATCHDOG=1.
func (n *Notifier) ResetWatchdog() { n.send(daemon.SdNotifyWatchdog) }

// Ready sends READY=1 once startup is complete.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping sends STOPPING=1 at shutdown.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *Notifier) send(state string) {
	if !n.enabled {
		return
	}
	if _, err := n.notify(state); err != nil {
		appLog.Error("systemd notify failed", err, "state", state)
	}
}
