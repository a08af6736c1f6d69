// Package systemd reports service state to systemd through the sd_notify
// protocol. Every call is a no-op when the process was not started by
// systemd with Type=notify.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates to the service manager.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a notifier that logs delivery failures to logger.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Ready tells systemd the service finished starting.
func (n *Notifier) Ready() bool {
	return n.send(daemon.SdNotifyReady)
}

// Stopping tells systemd the service is shutting down.
func (n *Notifier) Stopping() bool {
	return n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Invalid watchdog configuration", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *Notifier) send(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return false
	}
	return sent
}
