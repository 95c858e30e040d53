package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"

	"github.com/onesibox/onesibox/pkg/log"
)

const navigationTimeout = 30 * time.Second

// chromedpStrategy drives the browser over the DevTools protocol.
type chromedpStrategy struct {
	settings Settings

	mu          sync.Mutex
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	closing     bool
}

// NewChromedp returns the scripted session strategy.
func NewChromedp(s Settings) Strategy {
	return &chromedpStrategy{settings: s}
}

func (c *chromedpStrategy) Name() string { return "chromedp" }

func (c *chromedpStrategy) allocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	execPath, err := FindExecutable(c.settings.ExecPath)
	if err != nil {
		return nil, err
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(execPath),
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", false),
		chromedp.Flag("ignore-certificate-errors", true),
	}
	if dir := c.settings.UserDataDir; dir != "" {
		// Some chromium builds refuse to start when the crash database is missing.
		if err := os.MkdirAll(filepath.Join(dir, "Crash Reports"), 0o755); err != nil {
			log.Warn("Could not create crash reports directory", "dir", dir, "error", err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	for _, f := range append(kioskFlags(isWayland()), c.settings.ExtraArgs...) {
		name, value := splitFlag(f)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts, nil
}

func (c *chromedpStrategy) Launch(ctx context.Context, url string, crashed func(cause string)) error {
	opts, err := c.allocatorOptions()
	if err != nil {
		return err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	var once sync.Once
	report := func(cause string) {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if !closing {
			once.Do(func() { crashed(cause) })
		}
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *inspector.EventTargetCrashed:
			go report("target crashed")
		case *inspector.EventDetached:
			go report("target detached: " + string(e.Reason))
		}
	})

	// The first Run starts the browser and binds it to tabCtx, so it must
	// not run under a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return errors.Wrap(err, "start browser")
	}

	c.mu.Lock()
	c.ctx, c.cancelTab, c.cancelAlloc, c.closing = tabCtx, cancelTab, cancelAlloc, false
	c.mu.Unlock()

	go func() {
		<-tabCtx.Done()
		report("browser exited")
	}()

	return c.Navigate(ctx, url)
}

func (c *chromedpStrategy) session() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || c.ctx.Err() != nil {
		return nil, errors.New("no browser session")
	}
	return c.ctx, nil
}

func (c *chromedpStrategy) Ready() bool {
	sess, err := c.session()
	if err != nil {
		return false
	}
	cc := chromedp.FromContext(sess)
	return cc != nil && cc.Target != nil
}

// run executes actions on the session, bounded by both ctx and timeout.
func (c *chromedpStrategy) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(sess, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (c *chromedpStrategy) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, navigationTimeout, chromedp.Navigate(url))
}

func (c *chromedpStrategy) Evaluate(ctx context.Context, expr string) (any, error) {
	var raw []byte
	if err := c.run(ctx, navigationTimeout, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return v, nil
}

func (c *chromedpStrategy) Close() error {
	c.mu.Lock()
	c.closing = true
	ctx, cancelTab, cancelAlloc := c.ctx, c.cancelTab, c.cancelAlloc
	c.ctx, c.cancelTab, c.cancelAlloc = nil, nil, nil
	c.mu.Unlock()

	if ctx == nil {
		return nil
	}
	err := chromedp.Cancel(ctx)
	cancelTab()
	cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "close browser")
	}
	return nil
}
