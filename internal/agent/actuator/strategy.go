package actuator

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnsafeURL is returned for targets outside the allow-list or
	// carrying shell metacharacters.
	ErrUnsafeURL = errors.New("url rejected by actuator guard")

	// ErrNoStrategy is returned when no strategy could be launched.
	ErrNoStrategy = errors.New("no actuation strategy available")

	// ErrUnsupported is returned by strategies that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by strategy")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("actuator closed")
)

// Strategy is one way of driving the kiosk browser.
type Strategy interface {
	Name() string

	// Launch brings the browser up showing url. crashed is called, at most
	// once per launch and from any goroutine, when the session dies on its own.
	Launch(ctx context.Context, url string, crashed func(cause string)) error

	// Ready reports whether the launched session is still usable.
	Ready() bool

	Navigate(ctx context.Context, url string) error

	// Evaluate runs a JavaScript expression in the page and returns its
	// JSON-decoded value.
	Evaluate(ctx context.Context, expr string) (any, error)

	// Close releases everything Launch acquired. It is safe to call on a
	// strategy that was never launched.
	Close() error
}

// playbackToggler is implemented by strategies that cannot script the page
// but can still toggle playback.
type playbackToggler interface {
	TogglePlayback(ctx context.Context) error
}

// Settings shared by the strategies that launch a browser.
type Settings struct {
	ExecPath    string
	UserDataDir string
	ExtraArgs   []string
}

// candidatePaths are tried in order when no executable is configured.
var candidatePaths = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
}

// FindExecutable returns the browser binary: the configured path, then
// $CHROMIUM_BIN, then well known locations, then $PATH.
func FindExecutable(configured string) (string, error) {
	for _, p := range []string{configured, os.Getenv("CHROMIUM_BIN")} {
		if p != "" && isExecutable(p) {
			return p, nil
		}
	}
	for _, p := range candidatePaths {
		if isExecutable(p) {
			return p, nil
		}
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("chromium executable not found")
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir() && fi.Mode()&0o111 != 0
}

func isWayland() bool {
	return os.Getenv("WAYLAND_DISPLAY") != "" || os.Getenv("XDG_SESSION_TYPE") == "wayland"
}

// kioskFlags are the switches every launched browser gets, without the
// leading dashes.
func kioskFlags(wayland bool) []string {
	flags := []string{
		"kiosk",
		"noerrdialogs",
		"disable-infobars",
		"no-first-run",
		"autoplay-policy=no-user-gesture-required",
		"disable-session-crashed-bubble",
		"disable-features=TranslateUI",
		"check-for-update-interval=31536000",
		"disable-component-update",
		"disable-background-networking",
		"disable-sync",
		"disable-default-apps",
		"start-fullscreen",
		"use-fake-ui-for-media-stream",
		"disable-crashpad",
		"disable-crash-reporter",
		"disable-breakpad",
	}
	if wayland {
		flags = append(flags,
			"enable-features=UseOzonePlatform,WebRTCPipeWireCapturer",
			"ozone-platform=wayland",
		)
	}
	return flags
}

// splitFlag turns "name=value" into its parts; a bare name yields true.
func splitFlag(f string) (string, any) {
	f = strings.TrimLeft(f, "-")
	if name, value, ok := strings.Cut(f, "="); ok {
		return name, value
	}
	return f, true
}
