package memguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/steadyq-io/steadyq/internal/telemetry"
)

func TestGuardDisablesTrackingAtWarningThreshold(t *testing.T) {
	telemetry.SetTrackingActive(true)
	defer telemetry.SetTrackingActive(true)

	hub := telemetry.NewHub(100, 100*time.Millisecond, nil)
	cfg := Config{WarningThresholdPercent: 10, CriticalThresholdPercent: 90, AutoDisableOnWarning: true, CheckInterval: time.Second}

	const limit = int64(1_000_000_000)
	rss := int64(200_000_000) // 20% of limit, above the 10% warning threshold
	g := NewWithLimit(cfg, hub, nil, limit, func() (int64, error) { return rss, nil })

	hub.Percentiles.Record("scenario", time.Millisecond)
	g.CheckOnce()

	assert.False(t, telemetry.TrackingActive())
	assert.True(t, g.State().WarningTriggered)

	// Recording after disable must be a no-op, observable via Snapshot.
	hub.Percentiles.Record("scenario", time.Millisecond)
	assert.EqualValues(t, 0, hub.Percentiles.Snapshot("scenario").Count)
}

func TestGuardLeavesTrackingAloneBelowThreshold(t *testing.T) {
	telemetry.SetTrackingActive(true)
	defer telemetry.SetTrackingActive(true)

	hub := telemetry.NewHub(100, 100*time.Millisecond, nil)
	cfg := DefaultConfig()

	g := NewWithLimit(cfg, hub, nil, 1_000_000_000, func() (int64, error) { return 10_000_000, nil })
	g.CheckOnce()

	assert.True(t, telemetry.TrackingActive())
	assert.False(t, g.State().WarningTriggered)
}
