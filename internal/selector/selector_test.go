package selector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

func TestRoundRobinCyclesInOrder(t *testing.T) {
	scenarios := []scenario.Scenario{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}, {Name: "c", Weight: 1}}
	sel := New(scenarios, RoundRobin)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, sel.Next().Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestWeightedRandomConvergesToWeights(t *testing.T) {
	scenarios := []scenario.Scenario{{Name: "heavy", Weight: 9}, {Name: "light", Weight: 1}}
	sel := New(scenarios, WeightedRandom)

	const n = 20000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[sel.Next().Name]++
	}

	heavyFreq := float64(counts["heavy"]) / float64(n)
	assert.True(t, math.Abs(heavyFreq-0.9) < 0.03, "heavy frequency %v not close to 0.9", heavyFreq)
}

func TestSingleScenarioAlwaysReturnsIt(t *testing.T) {
	scenarios := []scenario.Scenario{{Name: "only", Weight: 5}}
	sel := New(scenarios, WeightedRandom)
	for i := 0; i < 10; i++ {
		assert.Equal(t, "only", sel.Next().Name)
	}
}
