package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Hub is constructed once at process start and passed around as a
// shared, read-only handle. Interior
// mutation happens through the per-label locks inside Percentiles /
// Throughput / Errors / Pool; the handle itself is never reassigned.
type Hub struct {
	Percentiles *PercentileTracker
	Throughput  *ThroughputTracker
	Errors      *ErrorCounters
	Pool        *PoolStats

	Registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	StatusCodes         *prometheus.CounterVec
	ConcurrentRequests   prometheus.Gauge
	ScenarioRequests     *prometheus.CounterVec
	ScenarioThroughput   *prometheus.GaugeVec
	ErrorsByCategory     *prometheus.CounterVec
	ScenarioAssertions   *prometheus.CounterVec
	ConnectionPoolTotal  prometheus.Gauge
	ConnectionPoolReused prometheus.Gauge
	ConnectionPoolReuseRate prometheus.Gauge
	MemoryRSSBytes       prometheus.Gauge
	MemoryLimitBytes     prometheus.Gauge
}

// NewHub builds a Hub with a fresh registry and every metric registered.
// log may be nil, in which case Percentiles' capacity warning is dropped
// rather than logged.
func NewHub(maxHistogramLabels int, reuseThreshold time.Duration, log *zap.Logger) *Hub {
	reg := prometheus.NewRegistry()
	h := &Hub{
		Percentiles: NewPercentileTracker(maxHistogramLabels, log),
		Throughput:  NewThroughputTracker(),
		Errors:      NewErrorCounters(),
		Pool:        NewPoolStats(reuseThreshold),
		Registry:    reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadtest_requests_total",
			Help: "Total HTTP requests issued.",
		}, []string{"outcome"}),
		StatusCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadtest_status_codes",
			Help: "Responses observed, labeled by status code.",
		}, []string{"code"}),
		ConcurrentRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtest_concurrent_requests",
			Help: "In-flight request count.",
		}),
		ScenarioRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_requests_total",
			Help: "Total scenario executions, labeled by scenario and result.",
		}, []string{"scenario", "result"}),
		ScenarioThroughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scenario_throughput_rps",
			Help: "Observed scenario completions per second.",
		}, []string{"scenario"}),
		ErrorsByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_errors_by_category",
			Help: "Categorized request errors.",
		}, []string{"category"}),
		ScenarioAssertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_assertions_total",
			Help: "Assertion outcomes, labeled by result.",
		}, []string{"result"}),
		ConnectionPoolTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connection_pool_requests_total",
			Help: "Requests observed by the pool-stats inferencer.",
		}),
		ConnectionPoolReused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connection_pool_reused_total",
			Help: "Requests classified as likely connection-reused.",
		}),
		ConnectionPoolReuseRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connection_pool_reuse_rate",
			Help: "Fraction of requests classified as likely connection-reused.",
		}),
		MemoryRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtest_memory_rss_bytes",
			Help: "Current process resident set size.",
		}),
		MemoryLimitBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadtest_memory_limit_bytes",
			Help: "Detected memory limit (cgroup or system total).",
		}),
	}

	reg.MustRegister(
		h.RequestsTotal, h.StatusCodes, h.ConcurrentRequests,
		h.ScenarioRequests, h.ScenarioThroughput, h.ErrorsByCategory,
		h.ScenarioAssertions, h.ConnectionPoolTotal, h.ConnectionPoolReused,
		h.ConnectionPoolReuseRate, h.MemoryRSSBytes, h.MemoryLimitBytes,
	)
	return h
}

// RefreshPoolGauges copies the current PoolStats snapshot into the
// registered gauges; called by the worker pool after each request it
// observes.
func (h *Hub) RefreshPoolGauges() {
	snap := h.Pool.Snapshot()
	h.ConnectionPoolTotal.Set(float64(snap.Total))
	h.ConnectionPoolReused.Set(float64(snap.Reused))
	h.ConnectionPoolReuseRate.Set(snap.ReuseRate)
}
