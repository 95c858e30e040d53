package hal

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// cpuSample is the aggregate line of /proc/stat.
type cpuSample struct {
	idle  uint64
	total uint64
}

// parseCPUStat reads the first "cpu" line of /proc/stat.
func parseCPUStat(r io.Reader) (cpuSample, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var s cpuSample
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuSample{}, fmt.Errorf("parse /proc/stat field %d: %w", i+1, err)
			}
			s.total += v
			// idle and iowait
			if i == 3 || i == 4 {
				s.idle += v
			}
		}
		return s, nil
	}
	if err := sc.Err(); err != nil {
		return cpuSample{}, err
	}
	return cpuSample{}, fmt.Errorf("no cpu line in /proc/stat")
}

// cpuMeter turns successive samples into a usage percentage.
type cpuMeter struct {
	mu   sync.Mutex
	prev cpuSample
}

func (m *cpuMeter) usage(cur cpuSample) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	dTotal := cur.total - m.prev.total
	dIdle := cur.idle - m.prev.idle
	if cur.total < m.prev.total || cur.idle < m.prev.idle || dTotal == 0 {
		m.prev = cur
		return 0
	}
	m.prev = cur
	return round1(100 * float64(dTotal-dIdle) / float64(dTotal))
}

// parseMemInfo returns the used memory percentage and the total in MiB.
func parseMemInfo(r io.Reader) (float64, uint64, error) {
	values := map[string]uint64{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		values[key] = v
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}

	total := values["MemTotal"]
	if total == 0 {
		return 0, 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	available, ok := values["MemAvailable"]
	if !ok {
		available = values["MemFree"] + values["Buffers"] + values["Cached"]
	}
	if available > total {
		available = total
	}
	return round1(100 * float64(total-available) / float64(total)), total / 1024, nil
}

// parseUptime reads the first field of /proc/uptime.
func parseUptime(data string) (int64, error) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/uptime")
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// parseMilliCelsius converts a thermal zone reading.
func parseMilliCelsius(data string) (float64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
	if err != nil {
		return 0, err
	}
	return round1(float64(v) / 1000), nil
}

func readTemperature(path string) *float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	t, err := parseMilliCelsius(string(data))
	if err != nil {
		return nil
	}
	return &t
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
