package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/pkg/log"
)

type fakeSender struct {
	mu   sync.Mutex
	acks []core.Ack
	err  error
}

func (s *fakeSender) Acknowledge(_ context.Context, ack core.Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.acks = append(s.acks, ack)
	return nil
}

func (s *fakeSender) sent() []core.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Ack(nil), s.acks...)
}

type fakeRetrier struct {
	mu   sync.Mutex
	acks []core.Ack
}

func (r *fakeRetrier) Enqueue(ack core.Ack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
}

type fakeModule struct {
	name   string
	routes map[core.CommandType]core.HandlerFunc
}

func (m *fakeModule) Name() string                                  { return m.name }
func (m *fakeModule) Routes() map[core.CommandType]core.HandlerFunc { return m.routes }

// recorder registers a handler for every command type that appends the
// command id to order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) handler(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
	return nil, nil
}

func (r *recorder) module() *fakeModule {
	routes := make(map[core.CommandType]core.HandlerFunc)
	for _, t := range allTypes {
		routes[t] = func(_ context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
			r.mu.Lock()
			r.order = append(r.order, cmd.ID)
			r.mu.Unlock()
			return nil, nil
		}
	}
	return &fakeModule{name: "recorder", routes: routes}
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

var allTypes = []core.CommandType{
	core.TypePlayMedia, core.TypeStopMedia, core.TypePauseMedia, core.TypeResumeMedia,
	core.TypeSetVolume, core.TypeJoinZoom, core.TypeLeaveZoom, core.TypeReboot,
	core.TypeShutdown, core.TypeRestartService, core.TypeGetSystemInfo, core.TypeGetLogs,
}

func newTestDispatcher(t *testing.T, st DeviceState, modules ...core.Module) (*Dispatcher, *fakeSender, *fakeRetrier) {
	t.Helper()
	sender := &fakeSender{}
	retry := &fakeRetrier{}
	if st == nil {
		st = state.New(state.WithLogger(log.NewNopLogger()))
	}
	d := New(nil, st, sender, retry, WithLogger(log.NewNopLogger()))
	require.NoError(t, d.Register(modules...))
	t.Cleanup(d.Close)
	return d, sender, retry
}

func play(id string) core.Command {
	return core.Command{ID: id, Type: core.TypePlayMedia, Payload: map[string]any{"url": "https://www.jw.org/v", "media_type": "video"}}
}

func TestPriorityOrder(t *testing.T) {
	rec := &recorder{}
	d, sender, _ := newTestDispatcher(t, nil, rec.module())

	batch := []core.Command{
		{ID: "logs", Type: core.TypeGetLogs},
		{ID: "volume", Type: core.TypeSetVolume, Payload: map[string]any{"level": 20.0}},
		play("play"),
		{ID: "reboot", Type: core.TypeReboot},
		{ID: "stop", Type: core.TypeStopMedia},
		{ID: "zoom", Type: core.TypeJoinZoom, Payload: map[string]any{"meeting_url": "https://zoom.us/j/1"}},
		{ID: "info", Type: core.TypeGetSystemInfo},
	}

	d.ProcessBatch(context.Background(), batch)

	assert.Equal(t, []string{"reboot", "zoom", "play", "stop", "volume", "logs", "info"}, rec.ids())
	assert.Len(t, sender.sent(), len(batch))
	for _, ack := range sender.sent() {
		assert.Equal(t, core.AckSuccess, ack.Status, ack.CommandID)
	}
}

func TestSingleFlight(t *testing.T) {
	var running, peak atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	var mu sync.Mutex
	var order []string

	slow := func(_ context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		order = append(order, cmd.ID)
		mu.Unlock()

		if cmd.ID == "first" {
			started <- struct{}{}
			<-release
		}
		return nil, nil
	}
	mod := &fakeModule{name: "slow", routes: map[core.CommandType]core.HandlerFunc{core.TypeStopMedia: slow}}
	d, sender, _ := newTestDispatcher(t, nil, mod)

	done := make(chan struct{})
	go func() {
		d.ProcessBatch(context.Background(), []core.Command{{ID: "first", Type: core.TypeStopMedia}})
		close(done)
	}()
	<-started

	ids := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for _, id := range ids {
		// Queued batches return without waiting for the in-flight one.
		d.ProcessBatch(context.Background(), []core.Command{{ID: id, Type: core.TypeStopMedia}})
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ProcessBatch(context.Background(), []core.Command{{ID: "late", Type: core.TypeStopMedia}})
		}()
	}
	wg.Wait()

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight batch did not finish")
	}

	assert.EqualValues(t, 1, peak.Load())
	mu.Lock()
	assert.Equal(t, append([]string{"first"}, ids...), order[:6])
	mu.Unlock()

	// "late" is the same id five times: executed once, acknowledged from the cache afterwards.
	assert.Len(t, sender.sent(), 11)
}

func TestPreemptionStopsPlaybackBeforeHandler(t *testing.T) {
	st := state.New(state.WithLogger(log.NewNopLogger()))
	st.SetPlaying(state.Media{URL: "https://www.jw.org/v", MediaType: "video"})

	var seen *state.Snapshot
	mod := &fakeModule{name: "system", routes: map[core.CommandType]core.HandlerFunc{
		core.TypeReboot: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			s := st.Snapshot()
			seen = &s
			return nil, nil
		},
	}}
	d, _, _ := newTestDispatcher(t, st, mod)

	d.ProcessBatch(context.Background(), []core.Command{{ID: "r", Type: core.TypeReboot}})

	require.NotNil(t, seen)
	assert.Nil(t, seen.CurrentMedia)
	assert.Equal(t, state.StatusIdle, seen.Status)
}

func TestNoPreemptionForMediaCommands(t *testing.T) {
	st := state.New(state.WithLogger(log.NewNopLogger()))
	st.SetPlaying(state.Media{URL: "https://www.jw.org/v", MediaType: "video"})

	var status state.Status
	mod := &fakeModule{name: "volume", routes: map[core.CommandType]core.HandlerFunc{
		core.TypeSetVolume: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			status = st.Status()
			return nil, nil
		},
	}}
	d, _, _ := newTestDispatcher(t, st, mod)

	d.ProcessBatch(context.Background(), []core.Command{{ID: "v", Type: core.TypeSetVolume, Payload: map[string]any{"level": 10.0}}})
	assert.Equal(t, state.StatusPlaying, status)
}

func TestFailureAcks(t *testing.T) {
	boom := errors.New("boom")
	mod := &fakeModule{name: "mixed", routes: map[core.CommandType]core.HandlerFunc{
		core.TypePlayMedia: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			return nil, boom
		},
		core.TypeSetVolume: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			return nil, core.WithCode(core.ErrCodeInvalidPayload, boom)
		},
		core.TypeShutdown: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			panic("kaboom")
		},
		core.TypeGetSystemInfo: func(context.Context, *core.Command, core.Actuator) (map[string]any, error) {
			return map[string]any{"hostname": "box"}, nil
		},
	}}
	d, sender, _ := newTestDispatcher(t, nil, mod)

	past := time.Now().Add(-time.Hour)
	d.ProcessBatch(context.Background(), []core.Command{
		play("media"),
		{ID: "volume", Type: core.TypeSetVolume, Payload: map[string]any{"level": 10.0}},
		{ID: "shutdown", Type: core.TypeShutdown},
		{ID: "info", Type: core.TypeGetSystemInfo},
		{ID: "logs", Type: core.TypeGetLogs},
		{ID: "bad-url", Type: core.TypePlayMedia, Payload: map[string]any{"url": "https://example.com", "media_type": "video"}},
		{ID: "expired", Type: core.TypeStopMedia, ExpiresAt: &past},
		{ID: "unknown", Type: "dance"},
	})

	acks := make(map[string]core.Ack)
	for _, ack := range sender.sent() {
		acks[ack.CommandID] = ack
	}
	require.Len(t, acks, 8)

	assert.Equal(t, core.ErrCodeMedia, acks["media"].ErrorCode)
	assert.Equal(t, "boom", acks["media"].ErrorMessage)
	assert.Equal(t, core.ErrCodeInvalidPayload, acks["volume"].ErrorCode)
	assert.Equal(t, core.ErrCodeInternal, acks["shutdown"].ErrorCode)
	assert.Contains(t, acks["shutdown"].ErrorMessage, "kaboom")
	assert.Equal(t, core.AckSuccess, acks["info"].Status)
	assert.Equal(t, "box", acks["info"].Result["hostname"])
	assert.Equal(t, core.ErrCodeUnknownType, acks["logs"].ErrorCode)
	assert.Equal(t, "No handler registered for get_logs", acks["logs"].ErrorMessage)
	assert.Equal(t, core.ErrCodeURLNotAllowed, acks["bad-url"].ErrorCode)
	assert.Equal(t, core.ErrCodeExpired, acks["expired"].ErrorCode)
	assert.Equal(t, core.ErrCodeUnknownType, acks["unknown"].ErrorCode)

	for id, ack := range acks {
		if id != "info" {
			assert.Equal(t, core.AckFailed, ack.Status, id)
		}
	}
}

func TestUndeliveredAckGoesToRetryQueue(t *testing.T) {
	rec := &recorder{}
	d, sender, retry := newTestDispatcher(t, nil, rec.module())
	sender.err = errors.New("network down")

	d.ProcessBatch(context.Background(), []core.Command{{ID: "s", Type: core.TypeStopMedia}})

	require.Len(t, retry.acks, 1)
	assert.Equal(t, "s", retry.acks[0].CommandID)
	assert.Equal(t, core.AckSuccess, retry.acks[0].Status)
}

func TestDuplicateCommandIsNotReExecuted(t *testing.T) {
	rec := &recorder{}
	d, sender, _ := newTestDispatcher(t, nil, rec.module())

	d.ProcessBatch(context.Background(), []core.Command{{ID: "s", Type: core.TypeStopMedia}})
	d.ProcessBatch(context.Background(), []core.Command{{ID: "s", Type: core.TypeStopMedia}})

	assert.Equal(t, []string{"s"}, rec.ids())
	require.Len(t, sender.sent(), 2)
	assert.Equal(t, sender.sent()[0], sender.sent()[1])
}

func TestCommandWithoutIDIsNotAcknowledged(t *testing.T) {
	rec := &recorder{}
	d, sender, retry := newTestDispatcher(t, nil, rec.module())

	d.ProcessBatch(context.Background(), []core.Command{{Type: core.TypeStopMedia}})

	assert.Empty(t, rec.ids())
	assert.Empty(t, sender.sent())
	assert.Empty(t, retry.acks)
}

func TestHandlerIgnoresCallerCancellation(t *testing.T) {
	var handlerErr error
	mod := &fakeModule{name: "media", routes: map[core.CommandType]core.HandlerFunc{
		core.TypeStopMedia: func(ctx context.Context, _ *core.Command, _ core.Actuator) (map[string]any, error) {
			handlerErr = ctx.Err()
			return nil, nil
		},
	}}
	d, _, _ := newTestDispatcher(t, nil, mod)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.ProcessBatch(ctx, []core.Command{{ID: "s", Type: core.TypeStopMedia}})

	assert.NoError(t, handlerErr)
}

func TestRegisterConflict(t *testing.T) {
	rec := &recorder{}
	d, _, _ := newTestDispatcher(t, nil, rec.module())

	err := d.Register(&fakeModule{name: "other", routes: map[core.CommandType]core.HandlerFunc{
		core.TypeReboot: rec.handler,
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already handled by recorder")
}
