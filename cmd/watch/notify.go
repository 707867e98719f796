package watch

import (
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifier reports lifecycle to systemd when running under a Type=notify
// unit. Outside systemd every call is a no-op.
type notifier struct {
	logger *slog.Logger
	send   func(state string) (bool, error)

	stopWatchdog chan struct{}
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{
		logger: logger,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *notifier) notify(states ...string) {
	for _, state := range states {
		sent, err := n.send(state)
		if err != nil {
			n.logger.Debug("sd_notify failed", "state", state, "error", err)
			return
		}
		if !sent {
			return
		}
	}
}

// Ready reports that a session is watching.
func (n *notifier) Ready(msg string) {
	n.notify(daemon.SdNotifyReady, "STATUS="+msg)
}

// Status updates the one-line status shown by systemctl status.
func (n *notifier) Status(msg string) {
	n.notify("STATUS=" + msg)
}

// Stopping reports that shutdown has begun.
func (n *notifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

// StartWatchdog pings systemd at half the unit's WatchdogSec, if set.
func (n *notifier) StartWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}

	n.stopWatchdog = make(chan struct{})
	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.notify(daemon.SdNotifyWatchdog)
			case <-stop:
				return
			}
		}
	}(n.stopWatchdog)
}

// StopWatchdog ends the watchdog pings.
func (n *notifier) StopWatchdog() {
	if n.stopWatchdog != nil {
		close(n.stopWatchdog)
		n.stopWatchdog = nil
	}
}
