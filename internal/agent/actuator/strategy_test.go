package actuator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesibox/onesibox/pkg/options"
)

func TestFindExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))

	got, err := FindExecutable(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	t.Setenv("CHROMIUM_BIN", bin)
	got, err = FindExecutable(plain)
	require.NoError(t, err)
	assert.Equal(t, bin, got, "non executable override falls through to CHROMIUM_BIN")
}

func TestKioskFlags(t *testing.T) {
	x11 := kioskFlags(false)
	assert.Contains(t, x11, "kiosk")
	assert.Contains(t, x11, "autoplay-policy=no-user-gesture-required")
	assert.NotContains(t, x11, "ozone-platform=wayland")

	assert.Contains(t, kioskFlags(true), "ozone-platform=wayland")

	name, value := splitFlag("--autoplay-policy=no-user-gesture-required")
	assert.Equal(t, "autoplay-policy", name)
	assert.Equal(t, "no-user-gesture-required", value)

	name, value = splitFlag("kiosk")
	assert.Equal(t, "kiosk", name)
	assert.Equal(t, true, value)
}

func TestProcessArgs(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("XDG_SESSION_TYPE", "x11")
	p := NewProcess(Settings{UserDataDir: "/var/lib/onesibox/chromium", ExtraArgs: []string{"--force-device-scale-factor=1"}}).(*processStrategy)

	args := p.args("http://localhost:3000")
	assert.Equal(t, "--kiosk", args[0])
	assert.Contains(t, args, "--force-device-scale-factor=1")
	assert.Contains(t, args, "--user-data-dir=/var/lib/onesibox/chromium")
	assert.Equal(t, "http://localhost:3000", args[len(args)-1])
}

func TestProcessTogglePlayback(t *testing.T) {
	var calls [][]string
	p := NewProcess(Settings{}).(*processStrategy)
	p.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "xdotool", name)
		calls = append(calls, args)
		if args[0] == "search" {
			return []byte("77\n"), nil
		}
		return nil, nil
	}

	require.NoError(t, p.TogglePlayback(context.Background()))
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"search", "--onlyvisible", "--class", "chromium"}, calls[0])
	assert.Equal(t, []string{"windowactivate", "--sync", "77", "key", "space"}, calls[1])

	p.run = func(context.Context, string, ...string) ([]byte, error) { return []byte(""), nil }
	assert.Error(t, p.TogglePlayback(context.Background()))
}

func TestXdotoolNavigate(t *testing.T) {
	var calls [][]string
	x := &xdotoolStrategy{
		class: "chromium",
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "xdotool", name)
			calls = append(calls, args)
			if args[0] == "search" {
				return []byte("123\n456\n"), nil
			}
			return nil, nil
		},
	}

	require.NoError(t, x.Launch(context.Background(), "http://localhost:3000", nil))
	assert.Equal(t, []string{"type", "--delay", "0", "--", "http://localhost:3000"}, calls[2])
	assert.Equal(t, "123", x.windowID())
	assert.True(t, x.Ready())

	_, err := x.Evaluate(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, x.Close())
	assert.False(t, x.Ready())
}

func TestXdotoolLaunchWithoutWindow(t *testing.T) {
	x := &xdotoolStrategy{
		class: "chromium",
		run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
	}
	assert.Error(t, x.Launch(context.Background(), "http://localhost:3000", nil))
	assert.False(t, x.Ready())
}

func TestNewFromOptions(t *testing.T) {
	o := options.NewBrowserOptions()
	s, err := NewFromOptions(o)
	require.NoError(t, err)
	require.Len(t, s.strategies, 3)
	assert.Equal(t, "chromedp", s.strategies[0].Name())
	assert.Equal(t, "xdotool", s.strategies[2].Name())

	o.Strategy = "process"
	s, err = NewFromOptions(o)
	require.NoError(t, err)
	require.Len(t, s.strategies, 1)
	assert.Equal(t, "process", s.strategies[0].Name())

	o.Strategy = "telnet"
	_, err = NewFromOptions(o)
	assert.Error(t, err)
}
