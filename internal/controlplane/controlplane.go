// Package controlplane implements the control-plane HTTP API: GET
// /health, POST /config, POST /cluster/config, GET /health/cluster,
// plus mounting the Prometheus registry. Routed with go-chi/chi/v5.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/config"
	"github.com/steadyq-io/steadyq/internal/memguard"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/workerpool"
)

// ErrNoQuorum is returned by a ClusterRole's Propose when the consensus
// layer can't commit a proposal because the cluster currently lacks a
// quorum (e.g. a leader stuck mid-election, or too many peers down).
// Distinguished from other Propose failures so applyOrPropose can reply
// 503 rather than 500.
var ErrNoQuorum = errors.New("controlplane: no quorum available")

// NodeInfo is the static identity half of the /health snapshot.
type NodeInfo struct {
	NodeID string
	Region string
}

// ClusterRole abstracts over the cluster state machine so this package
// doesn't need to import internal/cluster/fsm directly (keeps the
// control plane usable standalone, without cluster mode compiled in).
type ClusterRole interface {
	// IsClustered reports whether cluster mode is active at all.
	IsClustered() bool
	// IsLeader reports whether this node currently holds leadership.
	IsLeader() bool
	// LeaderHint returns an address hint for followers to redirect to.
	LeaderHint() string
	// Propose submits yaml to the consensus layer; only valid on the
	// leader. Blocks until committed or the context expires.
	Propose(ctx context.Context, yaml []byte) error
}

// Server is the control-plane HTTP API.
type Server struct {
	info       NodeInfo
	pool       *workerpool.Pool
	hub        *telemetry.Hub
	guard      *memguard.Guard
	cluster    ClusterRole
	currentRaw func() []byte // returns the currently-applied config's raw YAML, for /health's current_yaml
	log        *zap.Logger
	start      time.Time
}

// New constructs a Server. cluster, guard, and currentRaw may be nil;
// currentRaw should return the exact YAML bytes of the config most
// recently applied/committed, if the caller tracks one.
func New(info NodeInfo, pool *workerpool.Pool, hub *telemetry.Hub, guard *memguard.Guard, cluster ClusterRole, currentRaw func() []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{info: info, pool: pool, hub: hub, guard: guard, cluster: cluster, currentRaw: currentRaw, log: log, start: time.Now()}
}

// Router builds the chi router mounting the health, config, and
// cluster-config endpoints, plus /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/health/cluster", s.handleHealthCluster)
	r.Post("/config", s.handleConfig)
	r.Post("/cluster/config", s.handleClusterConfig)
	if s.hub != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.hub.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// healthSnapshot is the JSON body of GET /health.
type healthSnapshot struct {
	NodeID               string  `json:"node_id"`
	Region               string  `json:"region"`
	NodeState            string  `json:"node_state"`
	RPS                  float64 `json:"rps"`
	ErrorRatePct         float64 `json:"error_rate_pct"`
	Workers              int     `json:"workers"`
	MemoryMB             float64 `json:"memory_mb"`
	TotalMemoryMB        float64 `json:"total_memory_mb"`
	CPUPct               float64 `json:"cpu_pct"`
	TimeRemainingSecs    float64 `json:"time_remaining_secs"`
	TestStartedAtUnix    int64   `json:"test_started_at_unix"`
	TestDurationSecs     float64 `json:"test_duration_secs"`
	TestPercentComplete  float64 `json:"test_percent_complete"`
	CurrentYAML          string  `json:"current_yaml"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := healthSnapshot{
		NodeID: s.info.NodeID,
		Region: s.info.Region,
	}

	if s.pool != nil {
		cfg := s.pool.Config()
		snap.NodeState = s.pool.State().String()
		snap.Workers = cfg.NumConcurrentTasks
		snap.TestDurationSecs = cfg.TestDuration.Seconds()
		elapsed := s.pool.Elapsed()
		snap.TimeRemainingSecs = maxFloat(0, cfg.TestDuration.Seconds()-elapsed.Seconds())
		if cfg.TestDuration > 0 {
			snap.TestPercentComplete = minFloat(100, 100*elapsed.Seconds()/cfg.TestDuration.Seconds())
		}
	}

	if s.hub != nil {
		snap.RPS = s.hub.Throughput.TotalRps()
		errs := s.hub.Errors.Snapshot()
		var totalErrors uint64
		for _, v := range errs {
			totalErrors += v
		}
		snap.ErrorRatePct = errorRatePct(totalErrors, s.hub.Pool.Snapshot().Total)
	}

	if s.guard != nil {
		const mb = 1024 * 1024
		snap.MemoryMB = float64(s.guard.LastRSS()) / mb
		snap.TotalMemoryMB = float64(s.guard.Limit()) / mb
		snap.CPUPct = s.guard.CPUPercent()
	}

	if s.pool != nil {
		if started := s.pool.TestStartedAt(); !started.IsZero() {
			snap.TestStartedAtUnix = started.Unix()
		}
	}

	if s.currentRaw != nil {
		snap.CurrentYAML = string(s.currentRaw())
	}

	writeJSON(w, http.StatusOK, snap)
}

func errorRatePct(errors, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(errors) / float64(total)
}

func (s *Server) handleHealthCluster(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.applyOrPropose(w, r, false)
}

func (s *Server) handleClusterConfig(w http.ResponseWriter, r *http.Request) {
	s.applyOrPropose(w, r, true)
}

// applyOrPropose implements POST /config semantics: non-cluster mode
// validates+applies locally and replies 202; cluster
// mode on a follower replies 421 with a leader hint; on the leader it
// proposes through consensus and replies 202 once committed.
func (s *Server) applyOrPropose(w http.ResponseWriter, r *http.Request, clusterOnly bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if s.cluster == nil || !s.cluster.IsClustered() {
		if clusterOnly {
			http.Error(w, "not running in cluster mode", http.StatusBadRequest)
			return
		}
		model, err := config.LoadBytes(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.pool != nil {
			s.pool.ApplyConfig(model.PoolConfig)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !s.cluster.IsLeader() {
		w.Header().Set("X-Leader-Hint", s.cluster.LeaderHint())
		http.Error(w, "not the leader", http.StatusMisdirectedRequest)
		return
	}

	if _, err := config.LoadBytes(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.cluster.Propose(ctx, body); err != nil {
		s.log.Warn("controlplane: propose failed", zap.Error(err))
		if errors.Is(err, ErrNoQuorum) || errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Uptime returns how long this control-plane server has been serving.
func (s *Server) Uptime() time.Duration { return time.Since(s.start) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
