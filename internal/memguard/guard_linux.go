//go:build linux

package memguard

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// cgroupV1SentinelThreshold is the cgroup v1 "unset" sentinel: a limit at
// or above 2^60 bytes means "no limit configured".
const cgroupV1SentinelThreshold = int64(1) << 60

// detectMemoryLimit tries cgroup v2, then cgroup v1, then falls back to
// /proc/meminfo's MemTotal.
func detectMemoryLimit() (int64, error) {
	if limit, err := readCgroupV2Limit(); err == nil && limit > 0 {
		return limit, nil
	}
	if limit, err := readCgroupV1Limit(); err == nil && limit > 0 && limit < cgroupV1SentinelThreshold {
		return limit, nil
	}
	return readSystemMemTotal()
}

func readCgroupV2Limit() (int64, error) {
	data, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0, fmt.Errorf("cgroup v2 memory.max is unset")
	}
	return strconv.ParseInt(s, 10, 64)
}

func readCgroupV1Limit() (int64, error) {
	data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func readSystemMemTotal() (int64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemTotal == nil {
		return 0, fmt.Errorf("MemTotal unavailable")
	}
	return int64(*mi.MemTotal) * 1024, nil // kB -> bytes
}

// currentRSS reads this process's resident set size via /proc/self/stat.
func currentRSS() (int64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	rssPages := stat.RSS
	pageSize := int64(os.Getpagesize())
	rss := int64(math.Round(float64(rssPages) * float64(pageSize)))
	return rss, nil
}

var cpuSampleState struct {
	mu       sync.Mutex
	lastCPU  float64
	lastWall time.Time
}

// currentCPUPercent reads this process's cumulative CPU time from
// /proc/self/stat and divides the delta against the wall-clock delta
// since the previous sample, normalized by runtime.NumCPU(). The first call
// after process start has no prior sample to diff against and reports 0.
func currentCPUPercent() (float64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	cpuTime := stat.CPUTime()
	now := time.Now()

	cpuSampleState.mu.Lock()
	defer cpuSampleState.mu.Unlock()
	if cpuSampleState.lastWall.IsZero() {
		cpuSampleState.lastCPU = cpuTime
		cpuSampleState.lastWall = now
		return 0, nil
	}

	deltaCPU := cpuTime - cpuSampleState.lastCPU
	deltaWall := now.Sub(cpuSampleState.lastWall).Seconds()
	cpuSampleState.lastCPU = cpuTime
	cpuSampleState.lastWall = now
	if deltaWall <= 0 || deltaCPU < 0 {
		return 0, nil
	}

	pct := deltaCPU / deltaWall * 100.0 / float64(runtime.NumCPU())
	if pct < 0 {
		pct = 0
	}
	return pct, nil
}
