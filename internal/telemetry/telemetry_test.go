package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileTrackerRecordAndSnapshot(t *testing.T) {
	SetTrackingActive(true)
	tr := NewPercentileTracker(10, nil)
	tr.Record("scenario:step", 10*time.Millisecond)
	tr.Record("scenario:step", 20*time.Millisecond)

	snap := tr.Snapshot("scenario:step")
	assert.EqualValues(t, 2, snap.Count)
	assert.Greater(t, snap.Max, int64(0))
}

func TestPercentileTrackerClearAllZeroesCounts(t *testing.T) {
	SetTrackingActive(true)
	tr := NewPercentileTracker(10, nil)
	tr.Record("a", 5*time.Millisecond)
	require.EqualValues(t, 1, tr.Snapshot("a").Count)

	tr.ClearAll()
	assert.EqualValues(t, 0, tr.Snapshot("a").Count)
}

func TestPercentileTrackerDisabledIsNoop(t *testing.T) {
	SetTrackingActive(false)
	defer SetTrackingActive(true)

	tr := NewPercentileTracker(10, nil)
	tr.Record("a", 5*time.Millisecond)
	assert.EqualValues(t, 0, tr.Snapshot("a").Count)
}

func TestPercentileTrackerLRUEviction(t *testing.T) {
	SetTrackingActive(true)
	tr := NewPercentileTracker(2, nil)
	tr.Record("a", time.Millisecond)
	time.Sleep(time.Millisecond)
	tr.Record("b", time.Millisecond)
	time.Sleep(time.Millisecond)
	tr.Record("c", time.Millisecond) // should evict "a", the LRU label

	assert.LessOrEqual(t, tr.LabelCount(), 2)
	assert.EqualValues(t, 0, tr.Snapshot("a").Count)
	assert.EqualValues(t, 1, tr.Snapshot("c").Count)
}

func TestThroughputTrackerRps(t *testing.T) {
	tp := NewThroughputTracker()
	tp.RecordCompletion("checkout")
	tp.RecordCompletion("checkout")
	assert.EqualValues(t, 2, tp.Total())
	assert.Greater(t, tp.Rps("checkout"), 0.0)
}

func TestThroughputTrackerReset(t *testing.T) {
	tp := NewThroughputTracker()
	tp.RecordCompletion("checkout")
	tp.Reset()
	assert.EqualValues(t, 0, tp.Total())
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, CategoryClientError, ClassifyStatus(404))
	assert.Equal(t, CategoryServerError, ClassifyStatus(503))
	assert.Equal(t, CategoryNone, ClassifyStatus(200))
}

func TestClassifyTransportError(t *testing.T) {
	assert.Equal(t, CategoryTimeoutError, ClassifyTransportError(errors.New("context deadline exceeded")))
	assert.Equal(t, CategoryTLSError, ClassifyTransportError(errors.New("x509: certificate signed by unknown authority")))
	assert.Equal(t, CategoryNetworkError, ClassifyTransportError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, CategoryOtherError, ClassifyTransportError(errors.New("something unexpected")))
	assert.Equal(t, CategoryNone, ClassifyTransportError(nil))
}

func TestErrorCountersIncrementAndSnapshot(t *testing.T) {
	ec := NewErrorCounters()
	ec.Increment(CategoryServerError)
	ec.Increment(CategoryServerError)
	ec.Increment(CategoryNone) // not counted

	snap := ec.Snapshot()
	assert.EqualValues(t, 2, snap[CategoryServerError])
	assert.Zero(t, snap[CategoryNone])
}

func TestPoolStatsClassification(t *testing.T) {
	ps := NewPoolStats(100 * time.Millisecond)
	ps.Observe(10 * time.Millisecond)
	ps.Observe(500 * time.Millisecond)

	snap := ps.Snapshot()
	assert.EqualValues(t, 2, snap.Total)
	assert.EqualValues(t, 1, snap.Reused)
	assert.EqualValues(t, 1, snap.Fresh)
	assert.InDelta(t, 0.5, snap.ReuseRate, 0.001)
}
