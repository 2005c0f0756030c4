// Package telemetry implements the bounded telemetry core: percentile and
// throughput trackers, the error classifier,
// and the connection pool-stats inferencer.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"
)

const (
	histogramLowestTrackable  = int64(1)                         // 1us
	histogramHighestTrackable = int64(60 * time.Second / time.Microsecond) // 60s
	histogramSigFigs          = 3
)

// trackingActive gates percentile tracking globally; the memory guard
// flips this off under memory pressure. Record becomes a no-op and
// snapshots report zeros while disabled.
var trackingActive atomic.Bool

func init() {
	trackingActive.Store(true)
}

// SetTrackingActive is called by the memory guard and by config (the
// PERCENTILE_TRACKING_ENABLED startup flag).
func SetTrackingActive(on bool) {
	trackingActive.Store(on)
}

// TrackingActive reports whether percentile recording is currently
// enabled.
func TrackingActive() bool {
	return trackingActive.Load()
}

// safeHistogram wraps hdrhistogram.Histogram with a mutex, over the fixed
// [1us, 60s] range, used per-label rather than per-metric.
type safeHistogram struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	lastUsed  int64 // unix nanos, for LRU eviction
	updatedAt int64
}

func newSafeHistogram() *safeHistogram {
	return &safeHistogram{
		hist: hdrhistogram.New(histogramLowestTrackable, histogramHighestTrackable, histogramSigFigs),
	}
}

func (h *safeHistogram) record(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v < histogramLowestTrackable {
		v = histogramLowestTrackable
	}
	if v > histogramHighestTrackable {
		v = histogramHighestTrackable
	}
	_ = h.hist.RecordValue(v)
	atomic.StoreInt64(&h.lastUsed, time.Now().UnixNano())
}

func (h *safeHistogram) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hist.Reset()
}

// Snapshot is the point-in-time read of one label's histogram.
type Snapshot struct {
	Count              int64
	Min, Max           int64
	Mean               float64
	P50, P90, P95, P99 int64
	P999               int64
}

func (h *safeHistogram) snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Count: h.hist.TotalCount(),
		Min:   h.hist.Min(),
		Max:   h.hist.Max(),
		Mean:  h.hist.Mean(),
		P50:   h.hist.ValueAtQuantile(50),
		P90:   h.hist.ValueAtQuantile(90),
		P95:   h.hist.ValueAtQuantile(95),
		P99:   h.hist.ValueAtQuantile(99),
		P999:  h.hist.ValueAtQuantile(99.9),
	}
}

// PercentileTracker is an LRU-bounded set of per-label HDR histograms.
type PercentileTracker struct {
	mu         sync.Mutex
	labels     map[string]*safeHistogram
	maxLabels  int
	onEviction func(label string)
	log        *zap.Logger
	warnedAt80 bool
}

// NewPercentileTracker constructs a tracker bounded to maxLabels distinct
// labels. log may be nil, in which case the 80%-capacity warning is
// dropped rather than logged.
func NewPercentileTracker(maxLabels int, log *zap.Logger) *PercentileTracker {
	if maxLabels <= 0 {
		maxLabels = 1000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PercentileTracker{
		labels:    make(map[string]*safeHistogram),
		maxLabels: maxLabels,
		log:       log,
	}
}

// Record adds a latency observation (in microseconds) under label. A
// no-op while tracking is globally disabled.
func (t *PercentileTracker) Record(label string, d time.Duration) {
	if !TrackingActive() {
		return
	}
	t.mu.Lock()
	h, ok := t.labels[label]
	if !ok {
		if len(t.labels) >= t.maxLabels {
			t.evictLRULocked()
		}
		h = newSafeHistogram()
		t.labels[label] = h
	}
	count := len(t.labels)
	warn := count >= t.maxLabels*8/10 && !t.warnedAt80
	if warn {
		t.warnedAt80 = true
	}
	t.mu.Unlock()

	h.record(int64(d / time.Microsecond))

	if warn {
		t.log.Warn("telemetry: percentile label cardinality at 80% of capacity",
			zap.Int("labels", count), zap.Int("max_labels", t.maxLabels))
	}
}

// evictLRULocked removes the label whose histogram was least recently
// updated. Caller holds t.mu.
func (t *PercentileTracker) evictLRULocked() {
	var oldestLabel string
	var oldest int64 = 1<<63 - 1
	for label, h := range t.labels {
		lu := atomic.LoadInt64(&h.lastUsed)
		if lu < oldest {
			oldest = lu
			oldestLabel = label
		}
	}
	if oldestLabel != "" {
		delete(t.labels, oldestLabel)
		if t.onEviction != nil {
			t.onEviction(oldestLabel)
		}
	}
}

// Snapshot reads the current percentiles for label. Reports a zero-value
// Snapshot for an unknown label or while tracking is disabled.
func (t *PercentileTracker) Snapshot(label string) Snapshot {
	if !TrackingActive() {
		return Snapshot{}
	}
	t.mu.Lock()
	h, ok := t.labels[label]
	t.mu.Unlock()
	if !ok {
		return Snapshot{}
	}
	return h.snapshot()
}

// Reset clears the histogram for one label without removing it.
func (t *PercentileTracker) Reset(label string) {
	t.mu.Lock()
	h, ok := t.labels[label]
	t.mu.Unlock()
	if ok {
		h.clear()
	}
}

// ClearAll clears every tracked histogram without removing any labels.
func (t *PercentileTracker) ClearAll() {
	t.mu.Lock()
	hists := make([]*safeHistogram, 0, len(t.labels))
	for _, h := range t.labels {
		hists = append(hists, h)
	}
	t.mu.Unlock()
	for _, h := range hists {
		h.clear()
	}
}

// LabelCount reports how many distinct labels are currently tracked.
func (t *PercentileTracker) LabelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.labels)
}

// MaxLabels reports the configured cap.
func (t *PercentileTracker) MaxLabels() int { return t.maxLabels }

// StartRotation launches a goroutine that calls ClearAll every interval
// until the returned stop func is called.
func (t *PercentileTracker) StartRotation(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.ClearAll()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
