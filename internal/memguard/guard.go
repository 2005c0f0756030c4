// Package memguard implements a self-regulating memory protection layer:
// it samples RSS, compares it against a detected memory limit, and
// triggers defensive actions against the telemetry core.
//
// The cgroup/procfs reading itself is platform-specific and lives in
// guard_linux.go / guard_other.go.
package memguard

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/telemetry"
)

// Config holds the memory guard's threshold and sampling settings.
type Config struct {
	WarningThresholdPercent  float64
	CriticalThresholdPercent float64
	AutoDisableOnWarning     bool
	CheckInterval            time.Duration
}

// DefaultConfig returns the stated default thresholds.
func DefaultConfig() Config {
	return Config{
		WarningThresholdPercent:  80.0,
		CriticalThresholdPercent: 90.0,
		AutoDisableOnWarning:     true,
		CheckInterval:            5 * time.Second,
	}
}

// State is the guard's trigger bookkeeping.
type State struct {
	WarningTriggered    bool
	CriticalTriggered   bool
	PercentilesDisabled bool
	disabledAt          time.Time
}

// Guard samples RSS on an interval and drives the percentile tracker's
// global enable switch plus a ClearAll under pressure.
type Guard struct {
	cfg       Config
	hub       *telemetry.Hub
	log       *zap.Logger
	limit     int64
	state     State
	sampleRSS func() (int64, error)     // overridable for tests
	sampleCPU func() (float64, error) // overridable for tests
	lastRSS   atomic.Int64
	lastCPU   atomic.Uint64 // math.Float64bits of the last sampled CPU percent
}

// New constructs a Guard. The memory limit is detected once at
// construction (cgroup v2 → cgroup v1 → /proc/meminfo, see
// detectMemoryLimit).
func New(cfg Config, hub *telemetry.Hub, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	limit, err := detectMemoryLimit()
	if err != nil || limit <= 0 {
		log.Warn("memguard: falling back to unbounded limit", zap.Error(err))
		limit = 0
	}
	return &Guard{cfg: cfg, hub: hub, log: log, limit: limit, sampleRSS: currentRSS, sampleCPU: currentCPUPercent}
}

// NewWithLimit is New with an explicit limit and RSS sampler, used by
// tests to drive the guard deterministically without touching /proc.
func NewWithLimit(cfg Config, hub *telemetry.Hub, log *zap.Logger, limit int64, sampleRSS func() (int64, error)) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{cfg: cfg, hub: hub, log: log, limit: limit, sampleRSS: sampleRSS, sampleCPU: currentCPUPercent}
}

// Run blocks, sampling every cfg.CheckInterval, until ctx is done.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkOnce()
		}
	}
}

// checkOnce performs one sample-and-react cycle; exported as CheckOnce for
// tests that don't want to wait on the ticker.
func (g *Guard) checkOnce() {
	rss, err := g.sampleRSS()
	if err != nil {
		g.log.Warn("memguard: failed to read RSS", zap.Error(err))
		return
	}
	g.lastRSS.Store(rss)
	if g.sampleCPU != nil {
		if cpu, err := g.sampleCPU(); err == nil {
			g.lastCPU.Store(math.Float64bits(cpu))
		}
	}
	if g.hub != nil {
		g.hub.MemoryRSSBytes.Set(float64(rss))
		g.hub.MemoryLimitBytes.Set(float64(g.limit))
	}
	if g.limit <= 0 {
		return
	}

	pct := float64(rss) / float64(g.limit) * 100.0

	switch {
	case pct >= g.cfg.CriticalThresholdPercent:
		g.state.CriticalTriggered = true
		if g.hub != nil {
			g.hub.Percentiles.ClearAll()
		}
		g.log.Warn("memguard: critical memory threshold exceeded",
			zap.Float64("percent", pct), zap.Int64("rss_bytes", rss))
	case pct >= g.cfg.WarningThresholdPercent:
		g.state.WarningTriggered = true
		if g.cfg.AutoDisableOnWarning {
			telemetry.SetTrackingActive(false)
			g.state.PercentilesDisabled = true
			g.state.disabledAt = time.Now()
			if g.hub != nil {
				g.hub.Percentiles.ClearAll()
			}
		}
		g.log.Warn("memguard: warning memory threshold exceeded",
			zap.Float64("percent", pct), zap.Int64("rss_bytes", rss),
			zap.Bool("auto_disable", g.cfg.AutoDisableOnWarning))
	default:
		// Hysteresis: reset trigger flags once usage drops well below the
		// warning threshold for a sustained period, but never
		// automatically re-enable percentile tracking — that requires an
		// operator action (config apply or process restart).
		if g.state.WarningTriggered && pct < g.cfg.WarningThresholdPercent-10 {
			if time.Since(g.state.disabledAt) >= 60*time.Second {
				g.state.WarningTriggered = false
				g.state.CriticalTriggered = false
			}
		}
	}
}

// CheckOnce is the exported, test-friendly entry point for one sample
// cycle.
func (g *Guard) CheckOnce() { g.checkOnce() }

// State returns a copy of the guard's current trigger bookkeeping.
func (g *Guard) State() State { return g.state }

// Limit returns the detected memory limit in bytes (0 if undetected).
func (g *Guard) Limit() int64 { return g.limit }

// LastRSS returns the most recently sampled resident-set size in bytes.
func (g *Guard) LastRSS() int64 { return g.lastRSS.Load() }

// CPUPercent returns the most recently sampled CPU utilization percentage,
// normalized by the number of CPUs.
func (g *Guard) CPUPercent() float64 { return math.Float64frombits(g.lastCPU.Load()) }
