package actuator

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const standby = "http://localhost:3000"

type fakeStrategy struct {
	name string

	mu          sync.Mutex
	launchErr   error
	hang        bool
	navigateErr []error
	evalErr     error
	launches    int
	closes      int
	alive       bool
	urls        []string
	scripts     []string
	crashed     func(string)
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Launch(ctx context.Context, url string, crashed func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return ctx.Err()
	}
	if f.launchErr != nil {
		return f.launchErr
	}
	f.alive = true
	f.crashed = crashed
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakeStrategy) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeStrategy) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navigateErr) > 0 {
		err := f.navigateErr[0]
		f.navigateErr = f.navigateErr[1:]
		if err != nil {
			return err
		}
	}
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakeStrategy) Evaluate(_ context.Context, expr string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, expr)
	return nil, f.evalErr
}

func (f *fakeStrategy) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.alive = false
	return nil
}

// crash simulates the session dying on its own.
func (f *fakeStrategy) crash() {
	f.mu.Lock()
	f.alive = false
	cb := f.crashed
	f.mu.Unlock()
	cb("target crashed")
}

func (f *fakeStrategy) setHang(hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = hang
}

func (f *fakeStrategy) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeStrategy) lastURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		return ""
	}
	return f.urls[len(f.urls)-1]
}

// autoStep advances fc whenever something waits on it.
func autoStep(t *testing.T, fc *testingclock.FakeClock) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
				if fc.HasWaiters() {
					fc.Step(time.Second)
				}
			}
		}
	}()
}

func newTestSupervisor(t *testing.T, strategies ...Strategy) *Supervisor {
	fc := testingclock.NewFakeClock(time.Now())
	autoStep(t, fc)
	return New(standby+"/", strategies, WithClock(fc))
}

func TestSupervisorPicksFirstWorkingStrategy(t *testing.T) {
	broken := &fakeStrategy{name: "chromedp", launchErr: errors.New("no chromium")}
	proc := &fakeStrategy{name: "process"}
	s := newTestSupervisor(t, broken, proc)

	require.NoError(t, s.Navigate(context.Background(), "https://www.jw.org/en/"))

	assert.Equal(t, "process", s.Active())
	assert.Equal(t, 1, broken.launchCount())
	assert.Equal(t, 1, broken.closes)
	assert.Equal(t, "https://www.jw.org/en/", proc.lastURL())

	url, err := s.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://www.jw.org/en/", url)
}

func TestSupervisorNoStrategy(t *testing.T) {
	s := newTestSupervisor(t, &fakeStrategy{name: "chromedp", launchErr: errors.New("boom")})

	err := s.GoToStandby(context.Background())
	assert.ErrorIs(t, err, ErrNoStrategy)
	assert.Empty(t, s.Active())
}

func TestSupervisorURLGuard(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://www.jw.org/en/library/", true},
		{"https://zoom.us/j/123456?pwd=abc", true},
		{standby, true},
		{standby + "/player.html?url=x&autoplay=true", true},
		{"https://evil.example.com/", false},
		{"http://www.jw.org/", false},
		{"https://www.jw.org/$(reboot)", false},
		{"https://www.jw.org/a;b", false},
		{"https://zoom.us/j/1?pwd=a&x=1", false},
	}
	for _, tt := range tests {
		err := s.CheckURL(tt.url)
		if tt.allowed {
			assert.NoError(t, err, tt.url)
		} else {
			assert.ErrorIs(t, err, ErrUnsafeURL, tt.url)
		}
	}

	assert.ErrorIs(t, s.Navigate(context.Background(), "https://evil.example.com/"), ErrUnsafeURL)
	assert.Zero(t, st.launchCount(), "rejected urls never reach the browser")
}

func TestSupervisorRecoversFromCrash(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.ForceRestart(ctx, ""))
	require.Equal(t, 1, st.launchCount())

	st.crash()
	require.Eventually(t, func() bool { return st.launchCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Navigate(ctx, "https://wol.jw.org/en/"))
	assert.Equal(t, "https://wol.jw.org/en/", st.lastURL())
	assert.Equal(t, 2, st.launchCount())
}

func TestSupervisorCallersDoNotWaitOutCrashRecovery(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	require.NoError(t, s.ForceRestart(context.Background(), ""))

	// The relaunch after the crash never comes up on its own.
	st.setHang(true)
	st.crash()
	require.Eventually(t, func() bool { return st.launchCount() == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.GoToStandby(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind crash recovery")
	}
}

func TestSupervisorReinitializesWhenNotReady(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, "https://www.jw.org/"))

	st.mu.Lock()
	st.alive = false
	st.mu.Unlock()

	require.NoError(t, s.Navigate(ctx, "https://www.jw.org/en/"))
	assert.Equal(t, 2, st.launchCount())
}

func TestSupervisorRetriesNavigationOnce(t *testing.T) {
	st := &fakeStrategy{name: "chromedp", navigateErr: []error{errors.New("net::ERR_ABORTED")}}
	s := newTestSupervisor(t, st)

	require.NoError(t, s.Navigate(context.Background(), "https://www.jw.org/"))
	assert.Equal(t, 2, st.launchCount())
	assert.Equal(t, "https://www.jw.org/", st.lastURL())
}

func TestSupervisorNavigationFailsAfterRetry(t *testing.T) {
	failure := errors.New("net::ERR_ABORTED")
	st := &fakeStrategy{name: "chromedp", navigateErr: []error{failure, failure}}
	s := newTestSupervisor(t, st)

	err := s.Navigate(context.Background(), "https://www.jw.org/")
	assert.ErrorIs(t, err, failure)
}

func TestSupervisorGoToStandby(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, "https://www.jw.org/"))
	require.NoError(t, s.GoToStandby(ctx))

	assert.Equal(t, standby, st.lastURL())
	assert.Equal(t, 1, st.launchCount(), "a clean standby does not restart")
	assert.Contains(t, st.scripts[len(st.scripts)-1], "querySelectorAll('video, audio')")
}

func TestSupervisorGoToStandbyRestartsOnFailure(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, "https://www.jw.org/"))
	st.mu.Lock()
	st.navigateErr = []error{errors.New("page hung")}
	st.mu.Unlock()

	require.NoError(t, s.GoToStandby(ctx))
	assert.Equal(t, 2, st.launchCount())

	url, _ := s.CurrentURL(ctx)
	assert.Equal(t, standby, url)
}

func TestSupervisorPauseFallsBackToKeystroke(t *testing.T) {
	var pressed [][]string
	x := &xdotoolStrategy{
		class: "chromium",
		run: func(_ context.Context, _ string, args ...string) ([]byte, error) {
			pressed = append(pressed, args)
			if args[0] == "search" {
				return []byte("4194307\n"), nil
			}
			return nil, nil
		},
	}
	s := newTestSupervisor(t, x)

	require.NoError(t, s.Pause(context.Background()))
	last := pressed[len(pressed)-1]
	assert.Equal(t, []string{"windowactivate", "--sync", "4194307", "key", "space"}, last)
}

func TestSupervisorPauseWithProcessStrategy(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	var keys [][]string
	p := NewProcess(Settings{ExecPath: sleep}).(*processStrategy)
	p.start = func(string, ...string) *exec.Cmd { return exec.Command(sleep, "30") }
	p.run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		keys = append(keys, args)
		if args[0] == "search" {
			return []byte("4194307\n"), nil
		}
		return nil, nil
	}
	s := newTestSupervisor(t, p)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Pause(context.Background()))
	require.NoError(t, s.Resume(context.Background()))
	require.Len(t, keys, 4)
	assert.Equal(t, []string{"windowactivate", "--sync", "4194307", "key", "space"}, keys[3])
}

func TestSupervisorExecuteScriptWrapsBody(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)

	_, err := s.ExecuteScript(context.Background(), `return document.title`)
	require.NoError(t, err)
	assert.Equal(t, `(new Function("return document.title"))()`, st.scripts[len(st.scripts)-1])
}

func TestSupervisorForceRestartTarget(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.ForceRestart(ctx, "https://www.jw.org/"))
	assert.Equal(t, []string{standby, "https://www.jw.org/"}, st.urls)

	require.NoError(t, s.ForceRestart(ctx, ""))
	assert.Equal(t, 2, st.launchCount())
	assert.Equal(t, 1, st.closes)
	assert.Equal(t, standby, st.lastURL())
}

func TestSupervisorClose(t *testing.T) {
	st := &fakeStrategy{name: "chromedp"}
	s := newTestSupervisor(t, st)
	ctx := context.Background()

	require.NoError(t, s.ForceRestart(ctx, ""))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Navigate(ctx, "https://www.jw.org/"), ErrClosed)
	assert.ErrorIs(t, s.GoToStandby(ctx), ErrClosed)
	assert.Equal(t, 1, st.launchCount())

	// A crash report after close is ignored.
	st.crashed("late")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, st.launchCount())
}
