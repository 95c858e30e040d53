//go:build linux

package hal

import (
	"context"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/login1"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/pkg/log"
)

const (
	logindDest = "org.freedesktop.login1"
	logindPath = dbus.ObjectPath("/org/freedesktop/login1")

	thermalZone = "/sys/class/thermal/thermal_zone0/temp"
)

// LinuxHAL reaches the appliance through procfs, logind and systemd.
type LinuxHAL struct {
	mixer *mixer
	cpu   cpuMeter
}

func New() core.HAL {
	h := &LinuxHAL{mixer: &mixer{run: runCommand}}
	// Prime the meter so the first report covers the time since start.
	if f, err := os.Open("/proc/stat"); err == nil {
		if s, err := parseCPUStat(f); err == nil {
			h.cpu.usage(s)
		}
		f.Close()
	}
	return h
}

func (h *LinuxHAL) Reboot(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		return scheduleShutdown(ctx, "reboot", delay)
	}
	log.Info("System is rebooting NOW...")
	syscall.Sync()
	return withLogind(func(c *login1.Conn) { c.Reboot(false) })
}

func (h *LinuxHAL) Shutdown(ctx context.Context, delay time.Duration) error {
	if delay > 0 {
		return scheduleShutdown(ctx, "poweroff", delay)
	}
	log.Info("System is powering off NOW...")
	syscall.Sync()
	return withLogind(func(c *login1.Conn) { c.PowerOff(false) })
}

func withLogind(fn func(*login1.Conn)) error {
	conn, err := login1.New()
	if err != nil {
		return errors.Wrap(err, "unable to connect to logind")
	}
	defer conn.Close()
	fn(conn)
	return nil
}

// scheduleShutdown asks logind to act after delay. Unlike the immediate
// calls this survives the agent being stopped in the meantime.
func scheduleShutdown(ctx context.Context, kind string, delay time.Duration) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "unable to connect to system bus")
	}
	defer conn.Close()

	at := uint64(time.Now().Add(delay).UnixMicro())
	call := conn.Object(logindDest, logindPath).CallWithContext(ctx, logindDest+".Manager.ScheduleShutdown", 0, kind, at)
	if call.Err != nil {
		return errors.Wrapf(call.Err, "unable to schedule %s", kind)
	}
	log.Info("Scheduled power action", "kind", kind, "delay", delay)
	return nil
}

func (h *LinuxHAL) RestartService(ctx context.Context, unit string) error {
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to connect to systemd")
	}
	defer conn.Close()

	// The job usually ends by stopping this process, so only its
	// acceptance is awaited.
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", nil); err != nil {
		return errors.Wrapf(err, "unable to restart %s", unit)
	}
	log.Info("Service restart initiated", "unit", unit)
	return nil
}

func (h *LinuxHAL) SetVolume(ctx context.Context, level int) error {
	return h.mixer.set(ctx, level)
}

func (h *LinuxHAL) SystemInfo(ctx context.Context) (*core.SystemInfo, error) {
	info := &core.SystemInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	info.Hostname, _ = os.Hostname()
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		info.Kernel = strings.TrimSpace(string(data))
	}

	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, errors.Wrap(err, "read cpu statistics")
	}
	sample, err := parseCPUStat(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	info.CPUUsage = h.cpu.usage(sample)

	f, err = os.Open("/proc/meminfo")
	if err != nil {
		return nil, errors.Wrap(err, "read memory statistics")
	}
	info.MemoryUsage, info.MemoryTotalMB, err = parseMemInfo(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs("/", &st); err == nil {
		used := st.Blocks - st.Bfree
		if denom := used + st.Bavail; denom > 0 {
			info.DiskUsage = round1(100 * float64(used) / float64(denom))
		}
	}

	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		info.UptimeSeconds, _ = parseUptime(string(data))
	}
	info.Temperature = readTemperature(thermalZone)

	return info, nil
}
