package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/transport"
	"github.com/onesibox/onesibox/pkg/log"
)

var errBoom = errors.New("boom")

type fakeActuator struct {
	mu         sync.Mutex
	navigated  []string
	standby    int
	paused     int
	resumed    int
	navErr     error
	pauseErr   error
	standbyErr error
}

func (f *fakeActuator) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeActuator) GoToStandby(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.standby++
	return f.standbyErr
}

func (f *fakeActuator) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.paused++
	return nil
}

func (f *fakeActuator) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
	return nil
}

func (f *fakeActuator) ExecuteScript(context.Context, string) (any, error) { return nil, nil }

func (f *fakeActuator) CurrentURL(context.Context) (string, error) { return "", nil }

type halCall struct {
	op    string
	delay time.Duration
	arg   any
}

type fakeHAL struct {
	mu     sync.Mutex
	calls  []halCall
	volErr error
	info   *core.SystemInfo
}

func (f *fakeHAL) record(c halCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeHAL) Calls() []halCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]halCall(nil), f.calls...)
}

func (f *fakeHAL) Reboot(_ context.Context, d time.Duration) error {
	f.record(halCall{op: "reboot", delay: d})
	return nil
}

func (f *fakeHAL) Shutdown(_ context.Context, d time.Duration) error {
	f.record(halCall{op: "shutdown", delay: d})
	return nil
}

func (f *fakeHAL) RestartService(_ context.Context, unit string) error {
	f.record(halCall{op: "restart", arg: unit})
	return nil
}

func (f *fakeHAL) SetVolume(_ context.Context, level int) error {
	if f.volErr != nil {
		return f.volErr
	}
	f.record(halCall{op: "volume", arg: level})
	return nil
}

func (f *fakeHAL) SystemInfo(context.Context) (*core.SystemInfo, error) {
	if f.info == nil {
		return nil, errBoom
	}
	return f.info, nil
}

type fakeReporter struct {
	mu     sync.Mutex
	events []transport.PlaybackEvent
	err    error
}

func (f *fakeReporter) ReportPlayback(_ context.Context, ev transport.PlaybackEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeReporter) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Event)
	}
	return out
}

func newTestState() (*state.Machine, *testingclock.FakeClock) {
	fc := testingclock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	return state.New(state.WithClock(fc), state.WithLogger(log.NewNopLogger())), fc
}

func command(t core.CommandType, payload map[string]any) *core.Command {
	return &core.Command{ID: "cmd-1", Type: t, Payload: payload}
}
