package loadmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"30":  30 * time.Second,
		"0":   0,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDurationRejectsNegativeAndGarbage(t *testing.T) {
	for _, in := range []string{"-5s", "garbage", "5x", ""} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestParseDurationRoundTrip(t *testing.T) {
	d, err := ParseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, "90", FormatSeconds(d))
}

func TestRampRpsShape(t *testing.T) {
	m := Model{Kind: RampRps, Min: 10, Max: 50, RampDuration: 30 * time.Second}

	at := func(s float64) float64 { return m.Rate(time.Duration(s * float64(time.Second))) }

	assert.InDelta(t, 10, at(0), 0.001)
	assert.InDelta(t, 50, at(15), 0.001)
	assert.InDelta(t, 10, at(30), 0.001)
	assert.InDelta(t, 30, at(5), 1.0)
	assert.InDelta(t, 30, at(25), 1.0)

	// rate(d/2) == max
	assert.InDelta(t, m.Max, at(15), 0.001)

	for _, s := range []float64{0, 1, 5, 10, 14.9, 15, 15.1, 20, 29, 30, 45} {
		r := at(s)
		assert.GreaterOrEqual(t, r, m.Min-1e-9)
		assert.LessOrEqual(t, r, m.Max+1e-9)
	}
}

func TestRampRpsHoldsAtMinAfterRampEnds(t *testing.T) {
	m := Model{Kind: RampRps, Min: 10, Max: 50, RampDuration: 30 * time.Second}
	assert.InDelta(t, 10, m.Rate(60*time.Second), 0.001)
}

func TestDailyTrafficPhases(t *testing.T) {
	m := Model{
		Kind:                DailyTraffic,
		Min:                 10,
		MidRps:              50,
		Max:                 100,
		CycleDuration:       24 * time.Hour,
		MorningRampRatio:    0.125,
		PeakSustainRatio:    0.167,
		MidDeclineRatio:     0.125,
		MidSustainRatio:     0.167,
		EveningDeclineRatio: 0.167,
	}

	// well inside peak-sustain window
	peak := m.Rate(time.Duration(0.2*24*3600) * time.Second)
	assert.InDelta(t, 100, peak, 0.01)

	// start of cycle == min (morning ramp begins from min)
	assert.InDelta(t, 10, m.Rate(0), 0.01)

	// deep night (no explicit ratio assigned -> implicit night == min)
	night := m.Rate(time.Duration(0.9*24*3600) * time.Second)
	assert.InDelta(t, 10, night, 0.01)
}

func TestConcurrentSentinelIsHuge(t *testing.T) {
	m := Model{Kind: Concurrent, Workers: 5}
	assert.True(t, m.IsConcurrent())
	assert.Greater(t, m.Rate(0), 1e9)
}

func TestRpsConstant(t *testing.T) {
	m := Model{Kind: Rps, Target: 42}
	assert.Equal(t, 42.0, m.Rate(0))
	assert.Equal(t, 42.0, m.Rate(time.Hour))
}
