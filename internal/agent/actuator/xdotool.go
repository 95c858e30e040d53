package actuator

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// runner executes an external command and returns its standard output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return out, nil
}

const browserWindowClass = "chromium"

// findWindow returns the first visible window of class.
func findWindow(ctx context.Context, run runner, class string) (string, error) {
	out, err := run(ctx, "xdotool", "search", "--onlyvisible", "--class", class)
	if err != nil {
		return "", errors.Wrap(err, "find browser window")
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", errors.Errorf("no visible %s window", class)
	}
	return fields[0], nil
}

// pressPlaybackKey presses the space bar in window, which toggles the
// player.
func pressPlaybackKey(ctx context.Context, run runner, window string) error {
	_, err := run(ctx, "xdotool", "windowactivate", "--sync", window, "key", "space")
	return err
}

// xdotoolStrategy drives a browser window that is already open by sending
// synthetic keystrokes.
type xdotoolStrategy struct {
	run   runner
	class string

	mu     sync.Mutex
	window string
}

// NewXdotool returns the synthetic input strategy.
func NewXdotool() Strategy {
	return &xdotoolStrategy{run: execRunner, class: browserWindowClass}
}

func (x *xdotoolStrategy) Name() string { return "xdotool" }

func (x *xdotoolStrategy) Launch(ctx context.Context, url string, _ func(string)) error {
	w, err := findWindow(ctx, x.run, x.class)
	if err != nil {
		return err
	}

	x.mu.Lock()
	x.window = w
	x.mu.Unlock()

	return x.Navigate(ctx, url)
}

func (x *xdotoolStrategy) windowID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.window
}

func (x *xdotoolStrategy) Ready() bool {
	w := x.windowID()
	if w == "" {
		return false
	}
	_, err := x.run(context.Background(), "xdotool", "getwindowname", w)
	return err == nil
}

func (x *xdotoolStrategy) Navigate(ctx context.Context, url string) error {
	w := x.windowID()
	if w == "" {
		return errors.New("no browser window")
	}

	steps := [][]string{
		{"windowactivate", "--sync", w, "key", "--clearmodifiers", "ctrl+l"},
		{"type", "--delay", "0", "--", url},
		{"key", "Return"},
	}
	for _, args := range steps {
		if _, err := x.run(ctx, "xdotool", args...); err != nil {
			return err
		}
	}
	return nil
}

func (x *xdotoolStrategy) Evaluate(context.Context, string) (any, error) {
	return nil, ErrUnsupported
}

// TogglePlayback presses the space bar in the browser window.
func (x *xdotoolStrategy) TogglePlayback(ctx context.Context) error {
	w := x.windowID()
	if w == "" {
		return errors.New("no browser window")
	}
	return pressPlaybackKey(ctx, x.run, w)
}

// Close forgets the window. The browser it belongs to is not ours to stop.
func (x *xdotoolStrategy) Close() error {
	x.mu.Lock()
	x.window = ""
	x.mu.Unlock()
	return nil
}
