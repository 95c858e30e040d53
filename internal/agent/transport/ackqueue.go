package transport

import (
	"context"
	"sync"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	DefaultAckQueueSize  = 50
	DefaultAckMaxRetries = 3
)

// AckSender delivers an acknowledgment.
type AckSender interface {
	Acknowledge(ctx context.Context, ack core.Ack) error
}

// PendingAck is an acknowledgment waiting for redelivery.
type PendingAck struct {
	Ack        core.Ack
	RetryCount int
	MaxRetries int
}

// AckQueue is a bounded FIFO of undelivered acknowledgments. It holds at
// most one entry per command and evicts the oldest entry on overflow.
type AckQueue struct {
	mu         sync.Mutex
	items      []PendingAck
	capacity   int
	maxRetries int

	// drainMu serializes Drain calls.
	drainMu sync.Mutex

	log log.Logger
}

// NewAckQueue returns an empty queue. Non-positive arguments select the
// defaults.
func NewAckQueue(capacity, maxRetries int) *AckQueue {
	if capacity <= 0 {
		capacity = DefaultAckQueueSize
	}
	if maxRetries <= 0 {
		maxRetries = DefaultAckMaxRetries
	}
	return &AckQueue{
		capacity:   capacity,
		maxRetries: maxRetries,
		log:        log.WithName("ack-queue"),
	}
}

// Enqueue adds ack unless an entry for the same command is already queued.
func (q *AckQueue) Enqueue(ack core.Ack) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(ack.CommandID) >= 0 {
		q.log.Debug("Acknowledgment already queued", "id", ack.CommandID)
		return
	}
	q.items = append(q.items, PendingAck{Ack: ack, MaxRetries: q.maxRetries})
	q.evictLocked()
	metrics.AckQueueDepth.Set(float64(len(q.items)))
}

// Len returns the number of queued acknowledgments.
func (q *AckQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queue, oldest first.
func (q *AckQueue) Pending() []PendingAck {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingAck(nil), q.items...)
}

// Drain tries to deliver every queued acknowledgment once. Failures are put
// back ahead of anything enqueued meanwhile, unless their retry budget is
// spent. It returns the number delivered.
func (q *AckQueue) Drain(ctx context.Context, sender AckSender) int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	delivered := 0
	var retry []PendingAck
	for i, p := range batch {
		if ctx.Err() != nil {
			retry = append(retry, batch[i:]...)
			break
		}

		err := sender.Acknowledge(ctx, p.Ack)
		if err == nil {
			delivered++
			continue
		}

		p.RetryCount++
		if p.RetryCount >= p.MaxRetries {
			q.log.Error(err, "Dropping acknowledgment after exhausting retries", "id", p.Ack.CommandID, "attempts", p.RetryCount)
			metrics.AckDroppedTotal.WithLabelValues("exhausted").Inc()
			continue
		}
		retry = append(retry, p)
	}

	q.mu.Lock()
	merged := retry
	for _, p := range q.items {
		if indexOf(merged, p.Ack.CommandID) < 0 {
			merged = append(merged, p)
		}
	}
	q.items = merged
	q.evictLocked()
	metrics.AckQueueDepth.Set(float64(len(q.items)))
	remaining := len(q.items)
	q.mu.Unlock()

	q.log.Info("Drained acknowledgment queue", "delivered", delivered, "remaining", remaining)
	return delivered
}

func (q *AckQueue) evictLocked() {
	for len(q.items) > q.capacity {
		q.log.Warn("Acknowledgment queue full, evicting oldest", "id", q.items[0].Ack.CommandID)
		metrics.AckDroppedTotal.WithLabelValues("evicted").Inc()
		q.items[0] = PendingAck{}
		q.items = q.items[1:]
	}
}

func (q *AckQueue) indexLocked(id string) int {
	return indexOf(q.items, id)
}

func indexOf(items []PendingAck, id string) int {
	for i := range items {
		if items[i].Ack.CommandID == id {
			return i
		}
	}
	return -1
}
