package watchdog

import (
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
)

func recording(enabled bool, err error) (*Notifier, *[]string) {
	var sent []string
	n := New(enabled)
	n.notify = func(state string) (bool, error) {
		sent = append(sent, state)
		return err == nil, err
	}
	return n, &sent
}

func TestNotifierSends(t *testing.T) {
	n, sent := recording(true, nil)
	n.Ready()
	n.ResetWatchdog()
	n.Yield()
	n.Stopping()

	want := []string{daemon.SdNotifyReady, daemon.SdNotifyWatchdog, daemon.SdNotifyStopping}
	if len(*sent) != len(want) {
		t.Fatalf("sent %q, want %q", *sent, want)
	}
	for i := range want {
		if (*sent)[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, (*sent)[i], want[i])
		}
	}
}

func TestNotifierDisabled(t *testing.T) {
	n, sent := recording(false, nil)
	n.Ready()
	n.ResetWatchdog()
	if len(*sent) != 0 {
		t.Errorf("disabled notifier sent %q", *sent)
	}
	if n.Interval() != 0 {
		t.Errorf("Interval() = %v when disabled", n.Interval())
	}
}

func TestNotifierErrorIsNotFatal(t *testing.T) {
	n, sent := recording(true, errors.New("socket gone"))
	n.ResetWatchdog()
	n.ResetWatchdog()
	if len(*sent) != 2 {
		t.Errorf("sent %d notifications, want 2", len(*sent))
	}
}
