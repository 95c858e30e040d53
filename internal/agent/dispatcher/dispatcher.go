// Package dispatcher runs command batches one at a time, in priority order,
// and reports one acknowledgment per command.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/validator"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
)

// AckSender delivers an acknowledgment to the control plane.
type AckSender interface {
	Acknowledge(ctx context.Context, ack core.Ack) error
}

// AckRetrier keeps acknowledgments that could not be delivered.
type AckRetrier interface {
	Enqueue(ack core.Ack)
}

// DeviceState is the part of the state machine the dispatcher drives.
type DeviceState interface {
	Status() state.Status
	StopPlaying()
}

// Dispatcher is safe for concurrent use. Handlers never run concurrently.
type Dispatcher struct {
	mu         sync.Mutex
	processing bool
	pending    [][]core.Command

	routes   map[core.CommandType]core.HandlerFunc
	owners   map[core.CommandType]string
	actuator core.Actuator
	state    DeviceState
	sender   AckSender
	retry    AckRetrier

	clock  clock.PassiveClock
	recent *recentAcks
	log    log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithClock(c clock.PassiveClock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithRecentTTL sets how long executed command ids are remembered.
func WithRecentTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.recent = newRecentAcks(ttl) }
}

// New returns a dispatcher with no handlers registered.
func New(act core.Actuator, st DeviceState, sender AckSender, retry AckRetrier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:   make(map[core.CommandType]core.HandlerFunc),
		owners:   make(map[core.CommandType]string),
		actuator: act,
		state:    st,
		sender:   sender,
		retry:    retry,
		clock:    clock.RealClock{},
		log:      log.WithName("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.recent == nil {
		d.recent = newRecentAcks(DefaultRecentTTL)
	}
	return d
}

// Register adds the routes of every module. A command type may only be
// claimed by one module.
func (d *Dispatcher) Register(modules ...core.Module) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range modules {
		for t, handler := range m.Routes() {
			if owner, ok := d.owners[t]; ok {
				return fmt.Errorf("module %s register command %s failed: already handled by %s", m.Name(), t, owner)
			}
			d.routes[t] = handler
			d.owners[t] = m.Name()
			d.log.Info("Registered command handler", "module", m.Name(), "type", t)
		}
	}
	return nil
}

// ProcessBatch runs commands in priority order. When another batch is in
// flight the commands are queued and run by that caller once it finishes,
// and ProcessBatch returns immediately.
func (d *Dispatcher) ProcessBatch(ctx context.Context, commands []core.Command) {
	if len(commands) == 0 {
		return
	}

	d.mu.Lock()
	if d.processing {
		d.pending = append(d.pending, commands)
		d.log.Debug("Batch queued behind in-flight batch", "count", len(commands), "queued", len(d.pending))
		d.mu.Unlock()
		return
	}
	d.processing = true
	d.mu.Unlock()

	batch := commands
	for {
		d.runBatch(ctx, batch)

		d.mu.Lock()
		if len(d.pending) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		batch = d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.mu.Unlock()
	}
}

// Close releases the recent-acknowledgment cache.
func (d *Dispatcher) Close() {
	d.recent.Stop()
}

func (d *Dispatcher) runBatch(ctx context.Context, commands []core.Command) {
	sorted := make([]core.Command, len(commands))
	copy(sorted, commands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	d.log.Info("Processing command batch", "count", len(sorted))
	for i := range sorted {
		d.process(ctx, &sorted[i])
	}
}

func (d *Dispatcher) process(ctx context.Context, cmd *core.Command) {
	if ack, ok := d.recent.Last(cmd.ID); ok {
		d.log.Info("Command already executed, re-sending acknowledgment", "id", cmd.ID, "type", cmd.Type)
		metrics.CommandProcessedTotal.WithLabelValues(string(cmd.Type), "duplicate").Inc()
		d.deliver(ctx, ack)
		return
	}

	ack := d.execute(ctx, cmd)
	metrics.CommandProcessedTotal.WithLabelValues(string(cmd.Type), string(ack.Status)).Inc()

	if ack.CommandID == "" {
		d.log.Warn("Dropping acknowledgment for command without id", "type", cmd.Type, "error", ack.ErrorMessage)
		return
	}
	d.recent.Record(ack)
	d.deliver(ctx, ack)
}

func (d *Dispatcher) execute(ctx context.Context, cmd *core.Command) core.Ack {
	res := validator.Validate(cmd, d.clock.Now())
	if !res.Valid {
		d.log.Warn("Command rejected", "id", cmd.ID, "type", cmd.Type, "code", res.Code, "errors", res.Errors)
		return core.FailedAck(cmd.ID, res.Code, strings.Join(res.Errors, "; "), d.clock.Now())
	}

	d.mu.Lock()
	handler, ok := d.routes[cmd.Type]
	d.mu.Unlock()
	if !ok {
		d.log.Warn("No handler for command type", "id", cmd.ID, "type", cmd.Type)
		return core.FailedAck(cmd.ID, core.ErrCodeUnknownType, fmt.Sprintf("No handler registered for %s", cmd.Type), d.clock.Now())
	}

	priority := cmd.Priority()
	if priority == core.PriorityCritical && d.state.Status() == state.StatusPlaying {
		d.log.Info("Interrupting playback for high-priority command", "id", cmd.ID, "type", cmd.Type)
		d.state.StopPlaying()
	}

	d.log.Info("Executing command", "id", cmd.ID, "type", cmd.Type, "priority", priority)

	start := d.clock.Now()
	result, err := d.invoke(context.WithoutCancel(ctx), handler, cmd)
	metrics.CommandLatency.WithLabelValues(string(cmd.Type)).Observe(d.clock.Since(start).Seconds())

	if err != nil {
		code := errorCode(cmd.Type, err)
		d.log.Error(err, "Command execution failed", "id", cmd.ID, "type", cmd.Type, "code", code)
		return core.FailedAck(cmd.ID, code, err.Error(), d.clock.Now())
	}

	return core.SuccessAck(cmd.ID, result, d.clock.Now())
}

// invoke runs handler and turns a panic into an internal error.
func (d *Dispatcher) invoke(ctx context.Context, handler core.HandlerFunc, cmd *core.Command) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.WithCode(core.ErrCodeInternal, fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, cmd, d.actuator)
}

func (d *Dispatcher) deliver(ctx context.Context, ack core.Ack) {
	if err := d.sender.Acknowledge(ctx, ack); err != nil {
		d.log.Error(err, "Failed to send command acknowledgment, queued for retry", "id", ack.CommandID)
		d.retry.Enqueue(ack)
		return
	}
	d.log.Debug("Acknowledgment sent", "id", ack.CommandID, "status", ack.Status)
}

func errorCode(t core.CommandType, err error) core.ErrorCode {
	var coded *core.CodedError
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrCodeTimeout
	}
	return core.ErrorCodeForType(t)
}
