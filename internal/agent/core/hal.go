package core

import (
	"context"
	"time"
)

// HAL is the port through which the agent reaches the operating system.
type HAL interface {
	// Reboot restarts the appliance after delay (zero means now).
	Reboot(ctx context.Context, delay time.Duration) error

	// Shutdown powers the appliance off after delay (zero means now).
	Shutdown(ctx context.Context, delay time.Duration) error

	// RestartService restarts a systemd unit.
	RestartService(ctx context.Context, unit string) error

	// SetVolume sets the master output volume in percent.
	SetVolume(ctx context.Context, level int) error

	// SystemInfo samples resource usage and host facts.
	SystemInfo(ctx context.Context) (*SystemInfo, error)
}

// SystemInfo is reported by heartbeats and the get_system_info command.
type SystemInfo struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	Kernel        string   `json:"kernel,omitempty"`
	Arch          string   `json:"arch"`
	CPUUsage      float64  `json:"cpu_usage"`
	MemoryUsage   float64  `json:"memory_usage"`
	MemoryTotalMB uint64   `json:"memory_total_mb"`
	DiskUsage     float64  `json:"disk_usage"`
	Temperature   *float64 `json:"temperature"`
	UptimeSeconds int64    `json:"uptime"`
}
