// Package watchdog reports the agent lifecycle to systemd through the
// sd_notify protocol. Outside systemd every call is a no-op.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/pkg/log"
)

// NotifyFunc delivers one sd_notify state string. It reports false when no
// notification socket is configured.
type NotifyFunc func(state string) (bool, error)

// StateSource is observed to keep the unit status line current.
type StateSource interface {
	Snapshot() state.Snapshot
	Subscribe(l state.Listener) (cancel func())
}

type Option func(*Watchdog)

// WithNotifier replaces the sd_notify socket writer.
func WithNotifier(n NotifyFunc) Option {
	return func(w *Watchdog) { w.notify = n }
}

// WithInterval sets the keep-alive period. Zero disables keep-alives.
func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) { w.interval = d }
}

func WithClock(c clock.WithTicker) Option {
	return func(w *Watchdog) { w.clock = c }
}

type Watchdog struct {
	notify   NotifyFunc
	interval time.Duration
	clock    clock.WithTicker
	log      log.Logger

	changed chan struct{}
}

// New returns a watchdog that pings at half of the WatchdogSec configured
// for the unit.
func New(opts ...Option) *Watchdog {
	w := &Watchdog{
		notify:  func(s string) (bool, error) { return daemon.SdNotify(false, s) },
		clock:   clock.RealClock{},
		log:     log.WithName("watchdog"),
		changed: make(chan struct{}, 1),
	}
	if timeout, err := daemon.SdWatchdogEnabled(false); err != nil {
		w.log.Warn("Ignoring invalid watchdog configuration", "error", err)
	} else if timeout > 0 {
		w.interval = timeout / 2
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ready tells systemd that startup has finished.
func (w *Watchdog) Ready() {
	if w.send(daemon.SdNotifyReady) {
		w.log.Info("Notified systemd readiness", "watchdogInterval", w.interval)
	}
}

// Stopping tells systemd that shutdown has begun.
func (w *Watchdog) Stopping() {
	w.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl.
func (w *Watchdog) Status(msg string) {
	w.send("STATUS=" + msg)
}

// Run keeps the watchdog alive and mirrors state changes into the status
// line until ctx is done.
func (w *Watchdog) Run(ctx context.Context, st StateSource) error {
	cancel := st.Subscribe(func(state.Change) {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	w.Status(StatusLine(st.Snapshot()))

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := w.clock.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.send(daemon.SdNotifyWatchdog)
		case <-w.changed:
			w.Status(StatusLine(st.Snapshot()))
		}
	}
}

// StatusLine renders a snapshot for the unit status.
func StatusLine(s state.Snapshot) string {
	line := fmt.Sprintf("%s, control plane %s, volume %d", s.Status, s.ConnectionStatus, s.Volume)
	switch {
	case s.CurrentMedia != nil:
		line += ", media " + s.CurrentMedia.URL
	case s.CurrentMeeting != nil:
		line += ", meeting " + s.CurrentMeeting.MeetingID
	}
	return line
}

func (w *Watchdog) send(msg string) bool {
	sent, err := w.notify(msg)
	if err != nil {
		w.log.Warn("sd_notify failed", "state", msg, "error", err)
		return false
	}
	return sent
}
