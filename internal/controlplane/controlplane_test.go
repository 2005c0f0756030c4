package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyq-io/steadyq/internal/loadmodel"
	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/workerpool"
)

func newTestHub() *telemetry.Hub {
	telemetry.SetTrackingActive(true)
	return telemetry.NewHub(10, 100*time.Millisecond, nil)
}

func TestHandleHealthReportsPoolState(t *testing.T) {
	cfg := workerpool.Config{
		BaseURL:            "http://example.com",
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 2,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Concurrent},
	}
	pool := workerpool.New(cfg, http.DefaultClient, newTestHub(), nil)
	srv := New(NodeInfo{NodeID: "n1", Region: "us-east"}, pool, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "n1", body["node_id"])
	assert.Equal(t, float64(2), body["workers"])
}

func TestHandleHealthClusterAlwaysReturns200(t *testing.T) {
	srv := New(NodeInfo{}, nil, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/cluster", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleConfigStandaloneAppliesAndReturns202(t *testing.T) {
	cfg := workerpool.Config{
		BaseURL:            "http://example.com",
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 1,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Rps, Target: 1},
	}
	pool := workerpool.New(cfg, http.DefaultClient, newTestHub(), nil)
	srv := New(NodeInfo{}, pool, nil, nil, nil, nil, nil)

	yamlDoc := `
version: "1.0"
config:
  baseUrl: "http://example.com"
  workers: 3
  timeout: 5
  duration: 10
load:
  type: concurrent
`
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(yamlDoc))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 3, pool.Config().NumConcurrentTasks)
	pool.Stop()
}

type fakeCluster struct {
	clustered bool
	leader    bool
	hint      string
	proposed  []byte
	err       error
}

func (f *fakeCluster) IsClustered() bool { return f.clustered }
func (f *fakeCluster) IsLeader() bool    { return f.leader }
func (f *fakeCluster) LeaderHint() string { return f.hint }
func (f *fakeCluster) Propose(ctx context.Context, yaml []byte) error {
	f.proposed = yaml
	return f.err
}

func TestHandleConfigFollowerReturns421WithLeaderHint(t *testing.T) {
	cluster := &fakeCluster{clustered: true, leader: false, hint: "10.0.0.1:8080"}
	srv := New(NodeInfo{}, nil, nil, nil, cluster, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader("version: \"1.0\"\n"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMisdirectedRequest, w.Code)
	assert.Equal(t, "10.0.0.1:8080", w.Header().Get("X-Leader-Hint"))
}

func TestHandleConfigLeaderProposesAndReturns202(t *testing.T) {
	cluster := &fakeCluster{clustered: true, leader: true}
	srv := New(NodeInfo{}, nil, nil, nil, cluster, nil, nil)

	yamlDoc := `
version: "1.0"
config:
  baseUrl: "http://example.com"
  workers: 1
  timeout: 5
  duration: 10
load:
  type: concurrent
`
	req := httptest.NewRequest(http.MethodPost, "/cluster/config", strings.NewReader(yamlDoc))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, cluster.proposed)
}
