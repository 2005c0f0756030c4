// Package selector implements weighted-random and round-robin scenario
// selection. Independent of rate control.
package selector

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

// Strategy picks between the two selection algorithms.
type Strategy int

const (
	WeightedRandom Strategy = iota
	RoundRobin
)

// Selector picks a scenario from a fixed set, independent of rate
// control.
type Selector struct {
	scenarios   []scenario.Scenario
	cumWeights  []float64
	totalWeight float64
	strategy    Strategy
	rrIndex     atomic.Uint64
	rngMu       sync.Mutex
	rng         *rand.Rand
}

// New builds a Selector over scenarios. Weights must sum to a strictly
// positive total; callers are expected to have
// validated that already.
func New(scenarios []scenario.Scenario, strategy Strategy) *Selector {
	cum := make([]float64, len(scenarios))
	var total float64
	for i, s := range scenarios {
		total += s.Weight
		cum[i] = total
	}
	return &Selector{
		scenarios:   scenarios,
		cumWeights:  cum,
		totalWeight: total,
		strategy:    strategy,
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// Next picks the next scenario per the configured strategy.
func (s *Selector) Next() scenario.Scenario {
	if len(s.scenarios) == 1 {
		return s.scenarios[0]
	}
	switch s.strategy {
	case RoundRobin:
		idx := s.rrIndex.Add(1) - 1
		return s.scenarios[idx%uint64(len(s.scenarios))]
	default:
		return s.weightedPick()
	}
}

// weightedPick does an O(n) walk of cumulative weights against a uniform
// variate over [0, totalWeight).
func (s *Selector) weightedPick() scenario.Scenario {
	s.rngMu.Lock()
	r := s.rng.Float64() * s.totalWeight
	s.rngMu.Unlock()
	for i, cum := range s.cumWeights {
		if r < cum {
			return s.scenarios[i]
		}
	}
	return s.scenarios[len(s.scenarios)-1]
}
