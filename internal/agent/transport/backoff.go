package transport

import (
	"sync"
	"time"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures after
	// which the control plane is considered offline.
	DefaultFailureThreshold = 3

	rateLimitBase = 2 * time.Second
	rateLimitCap  = 60 * time.Second
)

// DefaultSchedule is applied once the failure threshold is reached. The
// last entry repeats.
var DefaultSchedule = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 60 * time.Second}

// Backoff tracks three independent throttles: consecutive connectivity
// failures, server rate limiting and credential rejection.
type Backoff struct {
	mu sync.Mutex

	threshold int
	schedule  []time.Duration

	failures  int
	rateDelay time.Duration
	dormant   bool
}

func NewBackoff() *Backoff {
	return &Backoff{threshold: DefaultFailureThreshold, schedule: DefaultSchedule}
}

// Success clears every throttle.
func (b *Backoff) Success() (previousFailures int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previousFailures = b.failures
	b.failures = 0
	b.rateDelay = 0
	b.dormant = false
	return previousFailures
}

// Failure records a connectivity failure. Below the threshold the delay is
// zero and offline is false.
func (b *Backoff) Failure() (delay time.Duration, offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures < b.threshold {
		return 0, false
	}

	idx := min(b.failures-b.threshold, len(b.schedule)-1)
	return b.schedule[idx], true
}

// RateLimited doubles the rate-limit delay, starting at 2s and capped at
// 60s. A larger server hint wins, up to the same cap.
func (b *Backoff) RateLimited(hint time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rateDelay == 0 {
		b.rateDelay = rateLimitBase
	} else {
		b.rateDelay = min(b.rateDelay*2, rateLimitCap)
	}
	return min(max(b.rateDelay, hint), rateLimitCap)
}

// Unauthorized makes the backoff dormant until the next Success.
func (b *Backoff) Unauthorized() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dormant = true
}

func (b *Backoff) Dormant() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dormant
}

func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
