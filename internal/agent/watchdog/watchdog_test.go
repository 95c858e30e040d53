package watchdog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/pkg/log"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) notify(s string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, s)
	return true, nil
}

func (r *recorder) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}

func TestLifecycleMessages(t *testing.T) {
	rec := &recorder{}
	w := New(WithNotifier(rec.notify))

	w.Ready()
	w.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, rec.msgs)
}

func TestRunPingsAndTracksState(t *testing.T) {
	rec := &recorder{}
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := state.New(state.WithClock(fc), state.WithLogger(log.NewNopLogger()))
	w := New(WithNotifier(rec.notify), WithInterval(15*time.Second), WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, st) }()

	require.Eventually(t, func() bool { return fc.HasWaiters() }, time.Second, time.Millisecond)
	assert.Equal(t, "STATUS=idle, control plane reconnecting, volume 80", rec.last())

	fc.Step(15 * time.Second)
	require.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) == 1 }, time.Second, time.Millisecond)

	st.SetMeeting(state.Meeting{MeetingURL: "https://zoom.us/j/42", MeetingID: "42"})
	require.Eventually(t, func() bool {
		return rec.last() == "STATUS=calling, control plane reconnecting, volume 80, meeting 42"
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunWithoutWatchdog(t *testing.T) {
	rec := &recorder{}
	st := state.New(state.WithLogger(log.NewNopLogger()))
	w := New(WithNotifier(rec.notify), WithInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx, st))
	assert.Zero(t, rec.count(daemon.SdNotifyWatchdog))
}
