//go:build !linux

package memguard

import "fmt"

// detectMemoryLimit and currentRSS have no portable implementation outside
// Linux's cgroup/procfs interfaces; the guard degrades to "unbounded" and
// logs accordingly (see Guard.New).
func detectMemoryLimit() (int64, error) {
	return 0, fmt.Errorf("memory limit detection is only implemented on linux")
}

func currentRSS() (int64, error) {
	return 0, fmt.Errorf("RSS sampling is only implemented on linux")
}

func currentCPUPercent() (float64, error) {
	return 0, fmt.Errorf("CPU sampling is only implemented on linux")
}
