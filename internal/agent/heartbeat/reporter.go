// Package heartbeat periodically reports device telemetry to the control
// plane. It runs independently of the pull channel.
package heartbeat

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/transport"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	DefaultInterval = 30 * time.Second

	// MinInterval bounds how often the server may ask for heartbeats.
	MinInterval = 10 * time.Second
)

// Sender posts a heartbeat.
type Sender interface {
	SendHeartbeat(ctx context.Context, hb transport.Heartbeat) (*transport.HeartbeatResponse, error)
}

// StateSource is the part of the device state the reporter reads.
type StateSource interface {
	Snapshot() state.Snapshot
	MarkHeartbeat(at time.Time)
	Subscribe(l state.Listener) (cancel func())
}

// SystemInfoSource samples host metrics.
type SystemInfoSource interface {
	SystemInfo(ctx context.Context) (*core.SystemInfo, error)
}

type Config struct {
	Sender   Sender
	State    StateSource
	System   SystemInfoSource
	Interval time.Duration
	Clock    clock.Clock
}

// Reporter sends heartbeats on its own timer. A status change triggers an
// early heartbeat unless the reporter is backing off.
type Reporter struct {
	sender   Sender
	state    StateSource
	system   SystemInfoSource
	interval time.Duration
	backoff  *transport.Backoff
	clock    clock.Clock
	log      log.Logger

	kick chan struct{}
}

func New(cfg Config) *Reporter {
	r := &Reporter{
		sender:   cfg.Sender,
		state:    cfg.State,
		system:   cfg.System,
		interval: cfg.Interval,
		backoff:  transport.NewBackoff(),
		clock:    cfg.Clock,
		log:      log.WithName("heartbeat"),
		kick:     make(chan struct{}, 1),
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	return r
}

// Run sends a heartbeat immediately and then whenever the timer fires.
func (r *Reporter) Run(ctx context.Context) error {
	r.log.Info("Heartbeat reporter starting", "interval", r.interval)

	cancel := r.state.Subscribe(func(c state.Change) {
		if c.Kind != state.StatusChanged || c.From == c.To {
			return
		}
		select {
		case r.kick <- struct{}{}:
		default:
		}
	})
	defer cancel()

	timer := r.clock.NewTimer(r.SendOnce(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Heartbeat reporter stopped")
			return nil
		case <-timer.C():
		case <-r.kick:
			if r.backoff.Failures() > 0 || r.backoff.Dormant() {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
		}
		timer.Reset(r.SendOnce(ctx))
	}
}

// SendOnce sends one heartbeat and returns the delay before the next one.
func (r *Reporter) SendOnce(ctx context.Context) time.Duration {
	hb := r.Build(ctx)

	resp, err := r.sender.SendHeartbeat(ctx, hb)
	if err != nil {
		if ctx.Err() != nil {
			return r.interval
		}
		return r.onFailure(err)
	}

	if prev := r.backoff.Success(); prev > 0 {
		r.log.Info("Heartbeat delivered after failures", "previousFailures", prev)
	}
	r.state.MarkHeartbeat(r.clock.Now())
	metrics.HeartbeatTotal.WithLabelValues("success").Inc()
	r.log.Debug("Heartbeat sent", "status", hb.Status)

	if next := resp.Next(); next > 0 {
		return max(next, MinInterval)
	}
	return r.interval
}

func (r *Reporter) onFailure(err error) time.Duration {
	switch {
	case errors.Is(err, transport.ErrUnauthorized):
		r.backoff.Unauthorized()
		metrics.HeartbeatTotal.WithLabelValues("unauthorized").Inc()
		r.log.Warn("Heartbeat rejected, credentials not accepted")
		return max(r.interval, transport.DefaultDormantRecheck)

	case errors.Is(err, transport.ErrRateLimited):
		delay := r.backoff.RateLimited(transport.RetryAfter(err))
		metrics.HeartbeatTotal.WithLabelValues("rate_limited").Inc()
		r.log.Warn("Heartbeat rate limited", "delay", delay)
		return max(r.interval, delay)

	default:
		delay, _ := r.backoff.Failure()
		metrics.HeartbeatTotal.WithLabelValues("failure").Inc()
		r.log.Error(err, "Heartbeat failed", "consecutiveFailures", r.backoff.Failures())
		return max(r.interval, delay)
	}
}

// Build assembles the heartbeat document. Host metrics are left at zero
// when they cannot be sampled.
func (r *Reporter) Build(ctx context.Context) transport.Heartbeat {
	snap := r.state.Snapshot()

	hb := transport.Heartbeat{
		Status:           snap.Status,
		ConnectionStatus: snap.ConnectionStatus,
		Volume:           snap.Volume,
		Timestamp:        r.clock.Now().UTC(),
	}
	if m := snap.CurrentMedia; m != nil {
		hb.CurrentMedia = &transport.HeartbeatMedia{URL: m.URL, MediaType: m.MediaType, IsPaused: m.IsPaused}
	}
	if m := snap.CurrentMeeting; m != nil {
		hb.CurrentMeeting = &transport.HeartbeatMeeting{MeetingURL: m.MeetingURL, MeetingID: m.MeetingID}
	}

	if r.system == nil {
		return hb
	}
	info, err := r.system.SystemInfo(ctx)
	if err != nil {
		r.log.Warn("Failed to sample system metrics", "error", err)
		return hb
	}
	hb.CPUUsage = info.CPUUsage
	hb.MemoryUsage = info.MemoryUsage
	hb.DiskUsage = info.DiskUsage
	hb.Temperature = info.Temperature
	hb.Uptime = info.UptimeSeconds
	return hb
}
