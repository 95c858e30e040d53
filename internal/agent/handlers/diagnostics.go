package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/hal"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/version"
)

const (
	DefaultLogLines = 100
	MaxLogLines     = 500

	maxLogLineBytes = 64 * 1024
)

// Diagnostics answers get_system_info and get_logs.
type Diagnostics struct {
	hal     core.HAL
	logFile string
	clock   clock.PassiveClock
	log     log.Logger
}

// NewDiagnostics returns the diagnostics module. logFile is the file the
// agent logs to; empty when logging only to the console.
func NewDiagnostics(hal core.HAL, logFile string) *Diagnostics {
	return &Diagnostics{hal: hal, logFile: logFile, clock: clock.RealClock{}, log: log.WithName("diagnostics")}
}

func (d *Diagnostics) Name() string { return "diagnostics" }

func (d *Diagnostics) Routes() map[core.CommandType]core.HandlerFunc {
	return map[core.CommandType]core.HandlerFunc{
		core.TypeGetSystemInfo: d.systemInfo,
		core.TypeGetLogs:       d.logs,
	}
}

func (d *Diagnostics) systemInfo(ctx context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
	d.log.Info("Collecting system information", "commandId", cmd.ID)

	info, err := d.hal.SystemInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect system information: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	network := map[string]any{"ip_address": nil, "interface": nil}
	if ip, iface := hal.PrimaryIPv4(); ip != "" {
		network["ip_address"], network["interface"] = ip, iface
	}
	result["network"] = network
	result["uptime_formatted"] = formatUptime(info.UptimeSeconds)
	result["agent_version"] = version.Get().GitVersion
	result["timestamp"] = d.clock.Now().UTC()
	return result, nil
}

func formatUptime(seconds int64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func (d *Diagnostics) logs(_ context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
	lines := DefaultLogLines
	if n, ok := cmd.Number("lines"); ok {
		lines = int(n)
	}
	lines = max(1, min(MaxLogLines, lines))

	d.log.Info("Retrieving application logs", "commandId", cmd.ID, "requestedLines", lines)

	result := map[string]any{
		"lines":           []string{},
		"total_lines":     0,
		"requested_lines": lines,
		"returned_lines":  0,
		"log_file":        filepath.Base(d.logFile),
		"timestamp":       d.clock.Now().UTC(),
	}
	if d.logFile == "" {
		result["log_file"] = ""
		return result, nil
	}

	tail, total, err := tailFile(d.logFile, lines)
	if errors.Is(err, fs.ErrNotExist) {
		d.log.Warn("Log file not found", "path", d.logFile)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve logs: %w", err)
	}

	for i := range tail {
		tail[i] = SanitizeLine(tail[i])
	}
	result["lines"] = tail
	result["total_lines"] = total
	result["returned_lines"] = len(tail)
	return result, nil
}

// tailFile returns the last n non-blank lines of path and the number of
// non-blank lines in it.
func tailFile(path string, n int) ([]string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	ring := make([]string, n)
	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLogLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		ring[total%n] = line
		total++
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}

	count := min(total, n)
	out := make([]string, 0, count)
	for i := total - count; i < total; i++ {
		out = append(out, ring[i%n])
	}
	return out, total, nil
}
