// Package workerpool implements the elastic worker pool, scheduler, and
// standby mode: absolute-time RPS pacing, staggered worker start,
// deterministic percentile sampling, and streaming body drain.
package workerpool

import (
	"time"

	"github.com/steadyq-io/steadyq/internal/loadmodel"
	"github.com/steadyq-io/steadyq/internal/scenario"
)

// State is one of the pool's four lifecycle states.
type State int

const (
	Initializing State = iota
	Running
	Standby
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Standby:
		return "Standby"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// StandbyConfig is the optional `standby` block of the pool config.
type StandbyConfig struct {
	Workers int
	RPS     float64
}

// Config is the pool's current, immutable configuration snapshot. A
// committed config application replaces the whole struct atomically.
type Config struct {
	BaseURL            string
	Method             scenario.Method
	Headers            map[string]string
	Body               string
	NumConcurrentTasks int
	TestDuration       time.Duration
	LoadModel          loadmodel.Model
	Scenarios          []scenario.Scenario
	SelectorStrategy   int // selector.Strategy, kept as int to avoid import cycle noise
	Standby            *StandbyConfig
	PercentileSamplingRate int // 0-100, deterministic sampling rate (spec-adjacent supplement)
}

// IsScenarioMode reports whether the pool should run multi-step
// scenarios instead of single top-level requests.
func (c Config) IsScenarioMode() bool { return len(c.Scenarios) > 0 }
