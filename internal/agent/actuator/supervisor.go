package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/validator"
	"github.com/onesibox/onesibox/internal/pkg/metrics"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/options"
)

const (
	// CrashRecoveryDelay separates teardown and relaunch after a crash.
	CrashRecoveryDelay = time.Second
	// RestartDelay separates close and relaunch on a forced restart.
	RestartDelay = 500 * time.Millisecond
	// StandbySettleDelay lets in-page media stop before leaving the page.
	StandbySettleDelay = 100 * time.Millisecond

	recoveryTimeout = 60 * time.Second
)

var shellMetachars = regexp.MustCompile("[`$\\\\;|&><\\n\\r]")

const (
	stopMediaScript = `document.querySelectorAll('video, audio').forEach(function (el) {
  el.pause(); el.currentTime = 0; el.removeAttribute('src'); el.load();
})`
	pauseScript  = `(function () { var v = document.querySelector('video, audio'); if (v) { v.pause(); } return !!v; })()`
	resumeScript = `(function () { var v = document.querySelector('video, audio'); if (v) { v.play(); } return !!v; })()`
)

var _ core.Actuator = (*Supervisor)(nil)

// Supervisor keeps one browser session alive and serializes every operation
// on it. Strategies are tried in order whenever a session has to be started.
type Supervisor struct {
	strategies []Strategy
	standbyURL string
	clock      clock.Clock
	log        log.Logger

	// sem serializes operations. Waiters give up when their context ends.
	sem        chan struct{}
	active     Strategy
	ready      bool
	currentURL string
	closed     bool
	// gen identifies the current session so late crash reports from a
	// previous one are ignored.
	gen uint64

	recoveryMu     sync.Mutex
	cancelRecovery context.CancelFunc
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

func WithLogger(l log.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// New returns a Supervisor over strategies in preference order. Nothing is
// launched until the first operation or ForceRestart.
func New(standbyURL string, strategies []Strategy, opts ...Option) *Supervisor {
	s := &Supervisor{
		strategies: strategies,
		standbyURL: strings.TrimRight(standbyURL, "/"),
		clock:      clock.RealClock{},
		log:        log.WithName("actuator"),
		sem:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.currentURL = s.standbyURL
	return s
}

// NewFromOptions builds the strategy list selected by o.
func NewFromOptions(o *options.BrowserOptions, opts ...Option) (*Supervisor, error) {
	settings := Settings{ExecPath: o.ExecPath, UserDataDir: o.UserDataDir, ExtraArgs: o.ExtraArgs}

	all := map[string]func() Strategy{
		"chromedp": func() Strategy { return NewChromedp(settings) },
		"process":  func() Strategy { return NewProcess(settings) },
		"xdotool":  NewXdotool,
	}

	var strategies []Strategy
	switch o.Strategy {
	case "", "auto":
		for _, name := range []string{"chromedp", "process", "xdotool"} {
			strategies = append(strategies, all[name]())
		}
	default:
		newFn, ok := all[o.Strategy]
		if !ok {
			return nil, fmt.Errorf("unknown browser strategy %q", o.Strategy)
		}
		strategies = append(strategies, newFn())
	}
	return New(o.StandbyURL, strategies, opts...), nil
}

// StandbyURL returns the page shown when idle.
func (s *Supervisor) StandbyURL() string {
	return s.standbyURL
}

// IsLocalURL reports whether raw points at the locally served pages.
func (s *Supervisor) IsLocalURL(raw string) bool {
	return raw == s.standbyURL || raw == s.standbyURL+"/" || strings.HasPrefix(raw, s.standbyURL+"/")
}

// CheckURL applies the navigation guard.
func (s *Supervisor) CheckURL(raw string) error {
	if s.IsLocalURL(raw) {
		return nil
	}
	if !validator.IsAllowedMediaURL(raw) && !validator.IsAllowedMeetingURL(raw) {
		return errors.Wrapf(ErrUnsafeURL, "url not allowed: %s", raw)
	}
	if shellMetachars.MatchString(raw) {
		return errors.Wrap(ErrUnsafeURL, "url contains invalid characters")
	}
	return nil
}

// Navigate shows url. If the session fails it is restarted and the
// navigation retried once.
func (s *Supervisor) Navigate(ctx context.Context, url string) error {
	if err := s.CheckURL(url); err != nil {
		return err
	}

	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	s.log.Info("Navigating to URL", "url", url)
	return s.navigateLocked(ctx, url)
}

func (s *Supervisor) navigateLocked(ctx context.Context, url string) error {
	err := s.ensureReadyLocked(ctx)
	if err == nil {
		s.stopMediaLocked(ctx)
		err = s.active.Navigate(ctx, url)
	}
	if err == nil {
		s.currentURL = url
		return nil
	}
	if s.closed || ctx.Err() != nil {
		return err
	}

	s.log.Error(err, "Navigation failed, restarting browser", "url", url)
	metrics.ActuatorRestartsTotal.WithLabelValues("navigation").Inc()
	if rerr := s.restartLocked(ctx, CrashRecoveryDelay); rerr != nil {
		return errors.Wrapf(err, "navigate to %s", url)
	}
	if rerr := s.active.Navigate(ctx, url); rerr != nil {
		s.log.Error(rerr, "Navigation retry failed", "url", url)
		return errors.Wrapf(err, "navigate to %s", url)
	}
	s.currentURL = url
	return nil
}

// GoToStandby stops playback and shows the standby page. The browser is
// restarted only if that fails.
func (s *Supervisor) GoToStandby(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	s.log.Info("Going to standby")

	err := s.ensureReadyLocked(ctx)
	if err == nil {
		s.stopMediaLocked(ctx)
		if err = s.sleep(ctx, StandbySettleDelay); err == nil {
			err = s.active.Navigate(ctx, s.standbyURL)
		}
	}
	if err == nil {
		s.currentURL = s.standbyURL
		return nil
	}
	if s.closed || ctx.Err() != nil {
		return err
	}

	s.log.Warn("Failed to navigate to standby cleanly", "error", err)
	metrics.ActuatorRestartsTotal.WithLabelValues("standby").Inc()
	return s.restartLocked(ctx, CrashRecoveryDelay)
}

// Pause pauses the first media element on the page.
func (s *Supervisor) Pause(ctx context.Context) error {
	return s.togglePlayback(ctx, pauseScript, "pause")
}

// Resume resumes the first media element on the page.
func (s *Supervisor) Resume(ctx context.Context) error {
	return s.togglePlayback(ctx, resumeScript, "resume")
}

func (s *Supervisor) togglePlayback(ctx context.Context, script, action string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return err
	}

	_, err := s.active.Evaluate(ctx, script)
	if errors.Is(err, ErrUnsupported) {
		if t, ok := s.active.(playbackToggler); ok {
			err = t.TogglePlayback(ctx)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "%s playback", action)
	}
	s.log.Info("Playback toggled", "action", action)
	return nil
}

// ExecuteScript runs code as the body of a function in the page and returns
// its result.
func (s *Supervisor) ExecuteScript(ctx context.Context, code string) (any, error) {
	preview := code
	if len(preview) > 100 {
		preview = preview[:100]
	}
	s.log.Info("Executing browser script", "script", preview)

	body, _ := json.Marshal(code)
	expr := fmt.Sprintf("(new Function(%s))()", body)

	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if err := s.ensureReadyLocked(ctx); err != nil {
		return nil, err
	}
	res, err := s.active.Evaluate(ctx, expr)
	if err != nil {
		return nil, errors.Wrap(err, "execute script")
	}
	return res, nil
}

// CurrentURL returns the last target navigated to.
func (s *Supervisor) CurrentURL(ctx context.Context) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()
	return s.currentURL, nil
}

// ForceRestart closes the browser, relaunches it and shows target. An empty
// target means the standby page.
func (s *Supervisor) ForceRestart(ctx context.Context, target string) error {
	if target == "" {
		target = s.standbyURL
	}
	if err := s.CheckURL(target); err != nil {
		return err
	}

	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	s.log.Info("Force restarting browser", "url", target)
	s.closed = false
	metrics.ActuatorRestartsTotal.WithLabelValues("forced").Inc()

	if err := s.restartLocked(ctx, RestartDelay); err != nil {
		return err
	}
	if target != s.standbyURL {
		if err := s.active.Navigate(ctx, target); err != nil {
			return errors.Wrapf(err, "navigate to %s", target)
		}
		s.currentURL = target
	}
	s.log.Info("Browser force restarted successfully", "strategy", s.active.Name())
	return nil
}

// Close stops the browser. Further operations fail with ErrClosed until
// ForceRestart. A crash recovery in progress is abandoned.
func (s *Supervisor) Close() error {
	s.recoveryMu.Lock()
	if s.cancelRecovery != nil {
		s.cancelRecovery()
	}
	s.recoveryMu.Unlock()

	_ = s.lock(context.Background())
	defer s.unlock()

	s.log.Info("Shutting down browser controller")
	s.closed = true
	return s.teardownLocked()
}

// Active returns the name of the running strategy, or "" when none is.
func (s *Supervisor) Active() string {
	_ = s.lock(context.Background())
	defer s.unlock()
	if s.active == nil || !s.ready {
		return ""
	}
	return s.active.Name()
}

func (s *Supervisor) ensureReadyLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.active != nil && s.ready && s.active.Ready() {
		return nil
	}
	if s.active != nil {
		s.log.Warn("Browser not ready, reinitializing", "strategy", s.active.Name())
		metrics.ActuatorRestartsTotal.WithLabelValues("not_ready").Inc()
		_ = s.teardownLocked()
	}
	return s.initLocked(ctx)
}

// initLocked launches the first strategy that comes up on the standby page.
func (s *Supervisor) initLocked(ctx context.Context) error {
	s.gen++
	gen := s.gen

	var errs []error
	for _, st := range s.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.Launch(ctx, s.standbyURL, s.crashHandler(gen)); err != nil {
			s.log.Warn("Actuation strategy failed to start", "strategy", st.Name(), "error", err)
			_ = st.Close()
			errs = append(errs, errors.Wrap(err, st.Name()))
			continue
		}
		s.active = st
		s.ready = true
		s.currentURL = s.standbyURL
		s.log.Info("Browser controller initialized successfully", "strategy", st.Name())
		return nil
	}
	return errors.Wrap(utilerrors.NewAggregate(append([]error{ErrNoStrategy}, errs...)), "initialize browser")
}

func (s *Supervisor) teardownLocked() error {
	s.ready = false
	if s.active == nil {
		return nil
	}
	err := s.active.Close()
	if err != nil {
		s.log.Debug("Error closing browser", "strategy", s.active.Name(), "error", err)
	}
	s.active = nil
	return err
}

func (s *Supervisor) restartLocked(ctx context.Context, delay time.Duration) error {
	_ = s.teardownLocked()
	if err := s.sleep(ctx, delay); err != nil {
		return err
	}
	if err := s.initLocked(ctx); err != nil {
		s.log.Error(err, "Browser restart failed")
		return err
	}
	return nil
}

// stopMediaLocked silences the page. Failure is harmless since the next
// navigation unloads it anyway.
func (s *Supervisor) stopMediaLocked(ctx context.Context) {
	if _, err := s.active.Evaluate(ctx, stopMediaScript); err != nil {
		s.log.Debug("Could not execute media stop script", "error", err)
	}
}

func (s *Supervisor) crashHandler(gen uint64) func(string) {
	return func(cause string) {
		go s.recoverFromCrash(gen, cause)
	}
}

func (s *Supervisor) recoverFromCrash(gen uint64, cause string) {
	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()

	s.recoveryMu.Lock()
	s.cancelRecovery = cancel
	s.recoveryMu.Unlock()
	defer func() {
		s.recoveryMu.Lock()
		s.cancelRecovery = nil
		s.recoveryMu.Unlock()
	}()

	if err := s.lock(ctx); err != nil {
		return
	}
	defer s.unlock()

	if gen != s.gen || s.closed {
		return
	}

	s.log.Warn("Browser session lost, attempting recovery", "cause", cause)
	metrics.ActuatorRestartsTotal.WithLabelValues("crash").Inc()

	if err := s.restartLocked(ctx, CrashRecoveryDelay); err != nil {
		return
	}
	s.log.Info("Crash recovery successful")
}

func (s *Supervisor) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for browser")
	}
}

func (s *Supervisor) unlock() {
	<-s.sem
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}
