package loadmodel

import "time"

// Kind tags the LoadModel variant.
type Kind int

const (
	Concurrent Kind = iota
	Rps
	RampRps
	DailyTraffic
)

// Model is a sum type with one arm per load-model kind. Zero-value fields not used by Kind are
// ignored.
type Model struct {
	Kind Kind

	// Concurrent
	Workers int

	// Rps
	Target float64

	// RampRps
	Min, Max     float64
	RampDuration time.Duration

	// DailyTraffic
	MidRps                                                                         float64
	CycleDuration                                                                  time.Duration
	MorningRampRatio, PeakSustainRatio, MidDeclineRatio, MidSustainRatio, EveningDeclineRatio float64
}

// ConcurrentSentinel is returned by Rate for Concurrent models as a
// "no RPS ceiling" sentinel.
const ConcurrentSentinel = 1<<63 - 1 // treated as +inf by callers; avoids float64 NaN propagation in math across packages

// Rate evaluates rate(t) for elapsed time since the load model was
// (re)applied. Pure and deterministic.
func (m Model) Rate(elapsed time.Duration) float64 {
	switch m.Kind {
	case Concurrent:
		return float64(ConcurrentSentinel)
	case Rps:
		return m.Target
	case RampRps:
		return rampRate(m.Min, m.Max, m.RampDuration, elapsed)
	case DailyTraffic:
		return dailyTrafficRate(m, elapsed)
	default:
		return 0
	}
}

func rampRate(min, max float64, ramp time.Duration, elapsed time.Duration) float64 {
	total := ramp.Seconds()
	if total <= 0 {
		return max
	}
	t := elapsed.Seconds()
	a := total / 3.0

	switch {
	case t <= a:
		return min + (max-min)*(t/a)
	case t <= 2*a:
		return max
	case t <= 3*a:
		down := t - 2*a
		rps := max - (max-min)*(down/a)
		if rps < min {
			return min
		}
		return rps
	default:
		// past ramp_duration: rate stays at min until test end.
		return min
	}
}

func dailyTrafficRate(m Model, elapsed time.Duration) float64 {
	cycle := m.CycleDuration.Seconds()
	if cycle <= 0 {
		return m.Max
	}
	t := elapsed.Seconds()
	timeInCycle := fmodPositive(t, cycle)

	morningEnd := cycle * m.MorningRampRatio
	peakEnd := morningEnd + cycle*m.PeakSustainRatio
	midDeclineEnd := peakEnd + cycle*m.MidDeclineRatio
	midSustainEnd := midDeclineEnd + cycle*m.MidSustainRatio
	eveningEnd := midSustainEnd + cycle*m.EveningDeclineRatio

	switch {
	case timeInCycle < morningEnd:
		return lerp(m.Min, m.Max, timeInCycle, morningEnd)
	case timeInCycle < peakEnd:
		return m.Max
	case timeInCycle < midDeclineEnd:
		return lerp(m.Max, m.MidRps, timeInCycle-peakEnd, midDeclineEnd-peakEnd)
	case timeInCycle < midSustainEnd:
		return m.MidRps
	case timeInCycle < eveningEnd:
		return lerp(m.MidRps, m.Min, timeInCycle-midSustainEnd, eveningEnd-midSustainEnd)
	default:
		return m.Min
	}
}

func lerp(from, to, elapsed, duration float64) float64 {
	if duration <= 0 {
		return to
	}
	return from + (to-from)*(elapsed/duration)
}

func fmodPositive(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	if m < 0 {
		m += b
	}
	return m
}

// IsConcurrent reports whether the model runs a fixed worker pool with no
// rate ceiling, as opposed to any Rps-family variant.
func (m Model) IsConcurrent() bool {
	return m.Kind == Concurrent
}
