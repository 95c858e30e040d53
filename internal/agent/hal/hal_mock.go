//go:build !linux

package hal

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/pkg/log"
)

// MockHAL lets the agent run on development machines. Power and service
// actions are only logged.
type MockHAL struct {
	mu      sync.Mutex
	volume  int
	started time.Time
}

func New() core.HAL {
	return &MockHAL{volume: 80, started: time.Now()}
}

func (h *MockHAL) Reboot(_ context.Context, delay time.Duration) error {
	log.Warn("[HAL-Mock] >>> REBOOT REQUESTED <<<", "delay", delay)
	return nil
}

func (h *MockHAL) Shutdown(_ context.Context, delay time.Duration) error {
	log.Warn("[HAL-Mock] >>> SHUTDOWN REQUESTED <<<", "delay", delay)
	return nil
}

func (h *MockHAL) RestartService(_ context.Context, unit string) error {
	log.Warn("[HAL-Mock] Service restart requested", "unit", unit)
	return nil
}

func (h *MockHAL) SetVolume(_ context.Context, level int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = max(0, min(100, level))
	log.Info("[HAL-Mock] Volume set", "level", h.volume)
	return nil
}

func (h *MockHAL) SystemInfo(context.Context) (*core.SystemInfo, error) {
	hostname, _ := os.Hostname()
	temp := 42.0
	return &core.SystemInfo{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		CPUUsage:      12.5,
		MemoryUsage:   48.0,
		MemoryTotalMB: 4096,
		DiskUsage:     31.0,
		Temperature:   &temp,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}, nil
}
