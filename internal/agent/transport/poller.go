package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	DefaultPollInterval = 5 * time.Second

	// DefaultDormantRecheck is how often a dormant poller checks whether its
	// credentials have been accepted again.
	DefaultDormantRecheck = 60 * time.Second
)

// CommandSource fetches pending commands and acknowledges them.
type CommandSource interface {
	// FetchCommands also returns failed acknowledgments for entries that
	// could not be decoded.
	FetchCommands(ctx context.Context) ([]core.Command, []core.Ack, error)
	AckSender
}

// BatchProcessor executes a batch of commands.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, commands []core.Command)
}

// ConnectionTracker receives the connection status derived from polling.
type ConnectionTracker interface {
	SetConnectionStatus(status state.ConnectionStatus)
}

var allConnectionStatuses = []string{
	string(state.ConnectionConnected),
	string(state.ConnectionReconnecting),
	string(state.ConnectionOffline),
}

// PollerConfig wires a Poller.
type PollerConfig struct {
	Source     CommandSource
	Dispatcher BatchProcessor
	State      ConnectionTracker
	Acks       *AckQueue

	Interval     time.Duration
	DormantRecheck time.Duration
	Clock        clock.WithTicker
}

// Poller is the pull channel. It is the only source of the device
// connection status.
type Poller struct {
	source     CommandSource
	dispatcher BatchProcessor
	state      ConnectionTracker
	acks       *AckQueue
	backoff    *Backoff

	interval     time.Duration
	dormantRecheck time.Duration
	clock        clock.WithTicker
	log          log.Logger

	inFlight atomic.Bool

	// Guarded by inFlight.
	resumeAt  time.Time
	lastRecheck time.Time
}

func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		source:       cfg.Source,
		dispatcher:   cfg.Dispatcher,
		state:        cfg.State,
		acks:         cfg.Acks,
		backoff:      NewBackoff(),
		interval:     cfg.Interval,
		dormantRecheck: cfg.DormantRecheck,
		clock:        cfg.Clock,
		log:          log.WithName("poller"),
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.dormantRecheck <= 0 {
		p.dormantRecheck = DefaultDormantRecheck
	}
	if p.clock == nil {
		p.clock = clock.RealClock{}
	}
	if p.acks == nil {
		p.acks = NewAckQueue(0, 0)
	}
	return p
}

// Run polls once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Polling client starting", "interval", p.interval)

	p.PollOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Polling client stopped")
			return nil
		case <-ticker.C():
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs one poll unless another one is in flight or a backoff
// is pending. It reports whether a request was made.
func (p *Poller) PollOnce(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Debug("Poll already in flight, skipping tick")
		return false
	}
	defer p.inFlight.Store(false)

	now := p.clock.Now()
	if p.backoff.Dormant() {
		if now.Sub(p.lastRecheck) < p.dormantRecheck {
			return false
		}
		p.lastRecheck = now
		p.log.Info("Rechecking control plane while dormant")
	} else if now.Before(p.resumeAt) {
		return false
	}

	commands, rejected, err := p.source.FetchCommands(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.onFailure(err)
		return true
	}

	p.onSuccess()
	for _, ack := range rejected {
		p.acks.Enqueue(ack)
	}
	p.acks.Drain(ctx, p.source)

	if len(commands) > 0 {
		p.log.Info("Received commands from server", "count", len(commands))
		p.dispatcher.ProcessBatch(ctx, commands)
	}
	return true
}

// Backoff exposes the throttling state, mainly for diagnostics.
func (p *Poller) Backoff() *Backoff {
	return p.backoff
}

func (p *Poller) onSuccess() {
	if prev := p.backoff.Success(); prev > 0 {
		p.log.Info("Connection restored after failures", "previousFailures", prev)
	}
	p.resumeAt = time.Time{}
	metrics.PollTotal.WithLabelValues("success").Inc()
	p.setConnection(state.ConnectionConnected)
}

func (p *Poller) onFailure(err error) {
	now := p.clock.Now()

	switch {
	case errors.Is(err, ErrUnauthorized):
		if !p.backoff.Dormant() {
			p.log.Error(err, "Credentials rejected, polling is dormant until a request succeeds")
		}
		p.backoff.Unauthorized()
		p.lastRecheck = now
		metrics.PollTotal.WithLabelValues("unauthorized").Inc()
		p.setConnection(state.ConnectionOffline)

	case errors.Is(err, ErrRateLimited):
		delay := p.backoff.RateLimited(RetryAfter(err))
		p.resumeAt = now.Add(delay)
		p.log.Warn("Rate limited by control plane", "delay", delay)
		metrics.PollTotal.WithLabelValues("rate_limited").Inc()

	default:
		delay, offline := p.backoff.Failure()
		p.log.Error(err, "Polling failed", "consecutiveFailures", p.backoff.Failures())
		metrics.PollTotal.WithLabelValues("failure").Inc()

		if offline {
			p.setConnection(state.ConnectionOffline)
			p.resumeAt = now.Add(delay)
			p.log.Info("Applying backoff delay", "delay", delay)
		} else {
			p.setConnection(state.ConnectionReconnecting)
		}
	}
}

func (p *Poller) setConnection(status state.ConnectionStatus) {
	p.state.SetConnectionStatus(status)
	metrics.SetCurrent(metrics.ConnectionStatus, string(status), allConnectionStatuses...)
}
