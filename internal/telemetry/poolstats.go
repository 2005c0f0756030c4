package telemetry

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// PoolConfig are the http.Transport-level pool settings applied at client
// construction.
type PoolConfig struct {
	MaxIdlePerHost int
	IdleTimeout    time.Duration
	KeepAlive      time.Duration
	ReuseThreshold time.Duration
}

// DefaultPoolConfig returns conservative connection-pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdlePerHost: 32,
		IdleTimeout:    90 * time.Second,
		KeepAlive:      60 * time.Second,
		ReuseThreshold: 100 * time.Millisecond,
	}
}

// NewHTTPTransport builds an *http.Transport configured from cfg, cloning
// http.DefaultTransport rather than building one from scratch.
func NewHTTPTransport(cfg PoolConfig, skipTLSVerify bool) *http.Transport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = cfg.MaxIdlePerHost
	base.MaxIdleConns = cfg.MaxIdlePerHost * 8
	base.IdleConnTimeout = cfg.IdleTimeout
	base.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: cfg.KeepAlive,
	}).DialContext
	if skipTLSVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return base
}

// PoolStats is the pool-stats inferencer. The underlying
// HTTP client doesn't report connection reuse directly, so requests are
// classified heuristically by latency against ReuseThreshold.
type PoolStats struct {
	threshold time.Duration
	total     uint64
	reused    uint64
	fresh     uint64
	startedAt time.Time
}

// NewPoolStats constructs an inferencer using threshold as the
// likely-reused cutoff.
func NewPoolStats(threshold time.Duration) *PoolStats {
	if threshold <= 0 {
		threshold = 100 * time.Millisecond
	}
	return &PoolStats{threshold: threshold, startedAt: time.Now()}
}

// Observe classifies one completed request by its latency.
func (p *PoolStats) Observe(latency time.Duration) {
	atomic.AddUint64(&p.total, 1)
	if latency < p.threshold {
		atomic.AddUint64(&p.reused, 1)
	} else {
		atomic.AddUint64(&p.fresh, 1)
	}
}

// PoolSnapshot is the point-in-time read of the inferencer.
type PoolSnapshot struct {
	Total     uint64
	Reused    uint64
	Fresh     uint64
	ReuseRate float64
	Duration  time.Duration
}

// Snapshot reads total/reused/new/reuse-rate/duration.
func (p *PoolStats) Snapshot() PoolSnapshot {
	total := atomic.LoadUint64(&p.total)
	reused := atomic.LoadUint64(&p.reused)
	fresh := atomic.LoadUint64(&p.fresh)
	var rate float64
	if total > 0 {
		rate = float64(reused) / float64(total)
	}
	return PoolSnapshot{
		Total:     total,
		Reused:    reused,
		Fresh:     fresh,
		ReuseRate: rate,
		Duration:  time.Since(p.startedAt),
	}
}
