package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
)

type fakeSource struct {
	mu       sync.Mutex
	results  []error
	commands []core.Command
	rejected []core.Ack
	fetches  int
	acked    []string
	block    chan struct{}
}

func (s *fakeSource) FetchCommands(context.Context) ([]core.Command, []core.Ack, error) {
	s.mu.Lock()
	s.fetches++
	var err error
	if len(s.results) > 0 {
		err = s.results[0]
		s.results = s.results[1:]
	}
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, nil, err
	}
	return s.commands, s.rejected, nil
}

func (s *fakeSource) Acknowledge(_ context.Context, ack core.Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ack.CommandID)
	return nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]core.Command
}

func (d *fakeDispatcher) ProcessBatch(_ context.Context, commands []core.Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, commands)
}

type connRecorder struct {
	mu       sync.Mutex
	statuses []state.ConnectionStatus
}

func (c *connRecorder) SetConnectionStatus(s state.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func (c *connRecorder) last() state.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return ""
	}
	return c.statuses[len(c.statuses)-1]
}

func newTestPoller(src *fakeSource) (*Poller, *fakeDispatcher, *connRecorder, *testingclock.FakeClock) {
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := &fakeDispatcher{}
	conn := &connRecorder{}
	p := NewPoller(PollerConfig{
		Source:     src,
		Dispatcher: d,
		State:      conn,
		Acks:       NewAckQueue(0, 0),
		Clock:      fc,
	})
	return p, d, conn, fc
}

var errNetwork = errors.New("connection refused")

func TestPollerSuccessDispatchesAndDrains(t *testing.T) {
	src := &fakeSource{commands: []core.Command{{ID: "1", Type: core.TypeStopMedia}}}
	p, d, conn, _ := newTestPoller(src)
	p.acks.Enqueue(ack("old"))

	assert.True(t, p.PollOnce(context.Background()))

	assert.Equal(t, state.ConnectionConnected, conn.last())
	require.Len(t, d.batches, 1)
	assert.Equal(t, "1", d.batches[0][0].ID)
	assert.Equal(t, []string{"old"}, src.acked)
	assert.Zero(t, p.acks.Len())
}

func TestPollerAcksRejectedCommands(t *testing.T) {
	src := &fakeSource{
		commands: []core.Command{{ID: "1", Type: core.TypeStopMedia}},
		rejected: []core.Ack{core.FailedAck("bad", core.ErrCodeInvalidCommand, "invalid command", time.Now())},
	}
	p, d, _, _ := newTestPoller(src)

	assert.True(t, p.PollOnce(context.Background()))

	assert.Equal(t, []string{"bad"}, src.acked)
	require.Len(t, d.batches, 1)
	assert.Len(t, d.batches[0], 1)
}

func TestPollerFailuresGoOfflineAndBackOff(t *testing.T) {
	src := &fakeSource{results: []error{errNetwork, errNetwork, errNetwork, errNetwork}}
	p, _, conn, fc := newTestPoller(src)
	ctx := context.Background()

	p.PollOnce(ctx)
	assert.Equal(t, state.ConnectionReconnecting, conn.last())
	p.PollOnce(ctx)
	assert.Equal(t, state.ConnectionReconnecting, conn.last())

	p.PollOnce(ctx)
	assert.Equal(t, state.ConnectionOffline, conn.last())
	assert.Equal(t, 3, src.fetchCount())

	// Third failure: 5s before the next attempt.
	assert.False(t, p.PollOnce(ctx))
	fc.Step(4 * time.Second)
	assert.False(t, p.PollOnce(ctx))
	fc.Step(time.Second)
	assert.True(t, p.PollOnce(ctx))
	assert.Equal(t, 4, src.fetchCount())

	// Fourth failure: 10s.
	fc.Step(9 * time.Second)
	assert.False(t, p.PollOnce(ctx))
	fc.Step(time.Second)
	assert.True(t, p.PollOnce(ctx))
	assert.Equal(t, state.ConnectionConnected, conn.last())
	assert.Zero(t, p.Backoff().Failures())
}

func TestPollerRateLimitKeepsConnectionStatus(t *testing.T) {
	limited := &StatusError{StatusCode: http.StatusTooManyRequests}
	src := &fakeSource{results: []error{nil, limited, limited}}
	p, _, conn, fc := newTestPoller(src)
	ctx := context.Background()

	p.PollOnce(ctx)
	p.PollOnce(ctx)
	assert.Equal(t, state.ConnectionConnected, conn.last())
	assert.Zero(t, p.Backoff().Failures())

	fc.Step(time.Second)
	assert.False(t, p.PollOnce(ctx))
	fc.Step(time.Second)
	assert.True(t, p.PollOnce(ctx))

	// Second 429 doubles the delay.
	fc.Step(3 * time.Second)
	assert.False(t, p.PollOnce(ctx))
	fc.Step(time.Second)
	assert.True(t, p.PollOnce(ctx))
}

func TestPollerDormantOnUnauthorized(t *testing.T) {
	denied := &StatusError{StatusCode: http.StatusUnauthorized}
	src := &fakeSource{results: []error{denied, denied}}
	p, _, conn, fc := newTestPoller(src)
	ctx := context.Background()

	p.PollOnce(ctx)
	assert.Equal(t, state.ConnectionOffline, conn.last())
	assert.True(t, p.Backoff().Dormant())

	fc.Step(30 * time.Second)
	assert.False(t, p.PollOnce(ctx))

	fc.Step(30 * time.Second)
	assert.True(t, p.PollOnce(ctx), "dormant poller rechecks every minute")
	assert.True(t, p.Backoff().Dormant())

	fc.Step(DefaultDormantRecheck)
	assert.True(t, p.PollOnce(ctx))
	assert.False(t, p.Backoff().Dormant())
	assert.Equal(t, state.ConnectionConnected, conn.last())
	assert.Equal(t, 3, src.fetchCount())
}

func TestPollerSingleInFlight(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	p, _, _, _ := newTestPoller(src)

	done := make(chan bool)
	go func() { done <- p.PollOnce(context.Background()) }()

	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, time.Millisecond)
	assert.False(t, p.PollOnce(context.Background()))

	close(src.block)
	assert.True(t, <-done)
	assert.Equal(t, 1, src.fetchCount())
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	p, _, _, fc := newTestPoller(src)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.fetchCount() == 1 && fc.HasWaiters() }, time.Second, time.Millisecond)
	fc.Step(DefaultPollInterval)
	require.Eventually(t, func() bool { return src.fetchCount() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerIgnoresCanceledFetch(t *testing.T) {
	src := &fakeSource{results: []error{context.Canceled}}
	p, _, conn, _ := newTestPoller(src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PollOnce(ctx)

	assert.Zero(t, p.Backoff().Failures())
	assert.Empty(t, conn.statuses)
}
