package workerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyq-io/steadyq/internal/loadmodel"
	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/telemetry"
)

func newTestHub() *telemetry.Hub {
	telemetry.SetTrackingActive(true)
	return telemetry.NewHub(100, 100*time.Millisecond, nil)
}

func TestPoolConcurrentModeLaunchesConfiguredWorkerCount(t *testing.T) {
	var inflightMax, inflight atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			cur := inflightMax.Load()
			if n <= cur || inflightMax.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:            srv.URL,
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 5,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Concurrent},
	}
	p := New(cfg, srv.Client(), newTestHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	p.stopWorkers()

	assert.Equal(t, int64(5), inflightMax.Load())
}

func TestPoolRpsModePacesObservedRateInRange(t *testing.T) {
	var count atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:            srv.URL,
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 2,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Rps, Target: 50},
	}
	p := New(cfg, srv.Client(), newTestHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(500 * time.Millisecond)
	cancel()
	p.stopWorkers()

	got := count.Load()
	// 50 rps over ~0.5s => ~25 requests; allow generous slack for scheduling jitter.
	assert.Greater(t, got, int64(5))
	assert.Less(t, got, int64(80))
}

func TestPoolApplyConfigSwapsModelMidRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:            srv.URL,
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 1,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Rps, Target: 10},
	}
	p := New(cfg, srv.Client(), newTestHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	before := p.Elapsed()
	_ = before
	time.Sleep(20 * time.Millisecond)

	newCfg := cfg
	newCfg.LoadModel = loadmodel.Model{Kind: loadmodel.Rps, Target: 100}
	p.ApplyConfig(newCfg)

	require.Equal(t, Running, p.State())
	assert.Equal(t, 100.0, p.Config().LoadModel.Target)
	// elapsed-time clock resets on ApplyConfig
	assert.Less(t, p.Elapsed(), 100*time.Millisecond)

	p.Stop()
}

func TestPoolEntersStandbyAtTestDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:            srv.URL,
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 2,
		TestDuration:       30 * time.Millisecond,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Rps, Target: 50},
		Standby:            &StandbyConfig{Workers: 1, RPS: 0},
	}
	p := New(cfg, srv.Client(), newTestHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		return p.State() == Standby
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, p.Config().NumConcurrentTasks)
	assert.Equal(t, 0.0, p.Config().LoadModel.Target)

	p.Stop()
}

func TestPoolStandbyDefaultsWithoutStandbyConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:            srv.URL,
		Method:             scenario.MethodGET,
		NumConcurrentTasks: 3,
		TestDuration:       20 * time.Millisecond,
		LoadModel:          loadmodel.Model{Kind: loadmodel.Rps, Target: 20},
	}
	p := New(cfg, srv.Client(), newTestHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		return p.State() == Standby
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, p.Config().NumConcurrentTasks)
	assert.Equal(t, 0.0, p.Config().LoadModel.Target)

	p.Stop()
}
