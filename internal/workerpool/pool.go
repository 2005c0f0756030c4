package workerpool

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/datasource"
	"github.com/steadyq-io/steadyq/internal/executor"
	"github.com/steadyq-io/steadyq/internal/selector"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/vucontext"
)

// Pool drives the configured load model against a client and/or a set of
// scenarios, elastically spawning and retiring workers.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	state    atomic.Int32
	started  time.Time
	testStart time.Time

	hub       *telemetry.Hub
	exec      *executor.Executor
	sel       *selector.Selector
	dataSrc   *datasource.Source
	client    *http.Client
	log       *zap.Logger

	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
	sampleCount  atomic.Uint64
}

// New constructs a Pool. client is the shared *http.Client supplied by the
// caller; the cmd entry points pass a plain client with a timeout and the
// default transport.
func New(cfg Config, client *http.Client, hub *telemetry.Hub, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{cfg: cfg, client: client, hub: hub, log: log}
	p.state.Store(int32(Initializing))
	p.rebuildSelectorAndSource()
	p.exec = executor.New(hub, log)
	return p
}

func (p *Pool) rebuildSelectorAndSource() {
	if p.cfg.IsScenarioMode() {
		p.sel = selector.New(p.cfg.Scenarios, selector.Strategy(p.cfg.SelectorStrategy))
		for _, sc := range p.cfg.Scenarios {
			if sc.DataFile != nil {
				src, err := datasource.Load(*sc.DataFile)
				if err != nil {
					p.log.Warn("workerpool: failed to load data file", zap.String("scenario", sc.Name), zap.Error(err))
					continue
				}
				p.dataSrc = src
				break // one shared source keeps the shared-atomic-index semantics simple
			}
		}
	}
}

// State returns the pool's current lifecycle state.
func (p *Pool) State() State { return State(p.state.Load()) }

// Elapsed returns time since the load model was last (re)applied —
// i.e. since the test clock last reset.
func (p *Pool) Elapsed() time.Duration {
	if p.testStart.IsZero() {
		return 0
	}
	return time.Since(p.testStart)
}

// TestStartedAt returns the wall-clock time the load model was last
// (re)applied, i.e. when the test clock last reset. Zero until Start has
// been called.
func (p *Pool) TestStartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.testStart
}

// Config returns a copy of the pool's current configuration snapshot.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Start launches the pool's worker goroutines and its own lifecycle
// ticker (standby transition at TEST_DURATION). Returns once workers are
// launched; call Stop or cancel ctx to terminate.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.testStart = time.Now()
	p.started = p.testStart
	p.mu.Unlock()

	p.state.Store(int32(Running))
	p.launchWorkers(ctx)

	go p.lifecycleLoop(ctx)
}

func (p *Pool) lifecycleLoop(ctx context.Context) {
	cfg := p.Config()
	if cfg.TestDuration <= 0 {
		return
	}
	timer := time.NewTimer(cfg.TestDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		p.enterStandby(ctx)
	}
}

// enterStandby transitions Running -> Standby.
func (p *Pool) enterStandby(ctx context.Context) {
	p.mu.Lock()
	standby := p.cfg.Standby
	p.mu.Unlock()

	p.stopWorkers()
	p.state.Store(int32(Standby))

	standbyCfg := p.cfg
	if standby != nil {
		standbyCfg.NumConcurrentTasks = standby.Workers
		standbyCfg.LoadModel.Target = standby.RPS
	} else {
		// process-start defaults: a single warm worker at 0 RPS (keep-warm
		// only).
		standbyCfg.NumConcurrentTasks = 1
		standbyCfg.LoadModel.Target = 0
	}
	p.mu.Lock()
	p.cfg = standbyCfg
	p.mu.Unlock()

	p.launchWorkers(ctx)
}

// ApplyConfig atomically swaps in a new configuration. Existing workers
// finish their current request/scenario and exit, and a fresh set of
// workers is launched against the new model. A new TestDuration resets the elapsed-time
// clock and returns the pool to Running even from Standby.
func (p *Pool) ApplyConfig(newCfg Config) {
	p.mu.Lock()
	p.cfg = newCfg
	p.testStart = time.Now()
	p.mu.Unlock()

	p.rebuildSelectorAndSource()
	p.stopWorkers()
	p.state.Store(int32(Running))

	// Workers are relaunched fresh against the new config; in-flight
	// requests from the old generation were allowed to drain by
	// stopWorkers's WaitGroup join.
	ctx := context.Background()
	p.launchWorkers(ctx)
	go p.lifecycleLoop(ctx)
}

// Stop terminates the pool (spec's cancellation model: reaching
// TEST_DURATION or an explicit shutdown signal).
func (p *Pool) Stop() {
	p.stopWorkers()
	p.state.Store(int32(Terminated))
}

func (p *Pool) stopWorkers() {
	p.mu.Lock()
	cancel := p.workerCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.workerWG.Wait()
}

func (p *Pool) launchWorkers(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.workerCancel = cancel
	cfg := p.cfg
	p.mu.Unlock()

	n := cfg.NumConcurrentTasks
	if n <= 0 {
		n = 1
	}

	for i := 0; i < n; i++ {
		p.workerWG.Add(1)
		go p.runWorker(ctx, i, n)
	}
}

// runWorker is one elastic worker task. For Concurrent mode it issues
// requests back-to-back; for any Rps-family model it paces itself against
// an absolute next-fire deadline computed from the current desired rate,
// staggered at startup across the worker set to avoid a thundering herd.
func (p *Pool) runWorker(ctx context.Context, workerIdx, totalWorkers int) {
	defer p.workerWG.Done()

	cache := executor.NewCache()
	vu := vucontext.New()

	cfg := p.Config()
	initialRate := cfg.LoadModel.Rate(p.Elapsed())
	stagger := staggerDelay(workerIdx, totalWorkers, initialRate)
	if !sleepCtx(ctx, stagger) {
		return
	}

	nextFire := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		cfg := p.Config()
		rate := cfg.LoadModel.Rate(p.Elapsed())

		if cfg.LoadModel.IsConcurrent() {
			p.doOneIteration(context.Background(), cfg, vu, cache)
			continue
		}

		if rate <= 0 {
			if !sleepCtx(ctx, time.Hour) {
				return
			}
			continue
		}

		period := time.Duration(float64(time.Second) * float64(totalWorkers) / rate)
		if nextFire.Before(time.Now().Add(-time.Second)) {
			nextFire = time.Now() // resync after excessive drift
		}
		if !sleepUntil(ctx, nextFire) {
			return
		}
		nextFire = nextFire.Add(period)

		// The in-flight request runs on its own background context,
		// detached from the worker loop's ctx: canceling the loop (config
		// hot-swap, standby transition) must not abort a request already
		// underway, only stop the next iteration from starting.
		p.doOneIteration(context.Background(), cfg, vu, cache)
	}
}

// staggerDelay spreads workers' first fire evenly across one rate-cycle
// so they don't all start in lockstep.
func staggerDelay(workerIdx, totalWorkers int, initialRate float64) time.Duration {
	if initialRate <= 0 || initialRate > 1e15 {
		return 0
	}
	cycleMs := float64(totalWorkers) * 1000.0 / initialRate
	return time.Duration(cycleMs*float64(workerIdx)/float64(totalWorkers)) * time.Millisecond
}

func (p *Pool) doOneIteration(ctx context.Context, cfg Config, vu *vucontext.Context, cache *executor.Cache) {
	if cfg.IsScenarioMode() {
		p.runScenarioIteration(ctx, cfg, vu, cache)
		return
	}
	p.runSingleRequestIteration(ctx, cfg)
}

func (p *Pool) runScenarioIteration(ctx context.Context, cfg Config, vu *vucontext.Context, cache *executor.Cache) {
	if p.sel == nil {
		return
	}
	sc := p.sel.Next()

	// A fresh cookie-enabled client per scenario execution isolates VU
	// cookie state.
	client := p.cookieClientFor(cfg)

	var row datasource.Row
	if p.dataSrc != nil {
		if r, err := p.dataSrc.Next(); err == nil {
			row = r
		}
	}

	p.exec.Execute(ctx, cfg.BaseURL, sc, client, vu, cache, row)
}

func (p *Pool) cookieClientFor(cfg Config) *http.Client {
	jar, _ := newCookieJar()
	return &http.Client{
		Transport: p.client.Transport,
		Timeout:   p.client.Timeout,
		Jar:       jar,
	}
}

func (p *Pool) runSingleRequestIteration(ctx context.Context, cfg Config) {
	req, err := http.NewRequestWithContext(ctx, string(cfg.Method), cfg.BaseURL, bodyReader(cfg.Body))
	if err != nil {
		return
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if p.hub != nil {
			p.hub.RequestsTotal.WithLabelValues("error").Inc()
			cat := telemetry.ClassifyTransportError(err)
			p.hub.Errors.Increment(cat)
			p.hub.ErrorsByCategory.WithLabelValues(string(cat)).Inc()
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // always fully drained to prevent OOM at high RPS
	latency := time.Since(start)

	if p.hub != nil {
		p.hub.Pool.Observe(latency)
		p.hub.RefreshPoolGauges()
		if shouldSample(p.sampleCount.Add(1), cfg.PercentileSamplingRate) {
			p.hub.Percentiles.Record("default", latency)
		}
		p.hub.StatusCodes.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		cat := telemetry.ClassifyStatus(resp.StatusCode)
		outcome := "success"
		if cat != telemetry.CategoryNone {
			outcome = "error"
			p.hub.Errors.Increment(cat)
			p.hub.ErrorsByCategory.WithLabelValues(string(cat)).Inc()
		}
		p.hub.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func bodyReader(body string) io.Reader {
	if body == "" {
		return nil
	}
	return bytes.NewBufferString(body)
}

// shouldSample implements the deterministic (not random) percentile
// sampling rule: an atomic counter modulo 100 compared to rate, avoiding
// both coordination overhead and the bias of true randomness at very high
// RPS.
func shouldSample(counter uint64, rate int) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	return int(counter%100) < rate
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}
	return sleepCtx(ctx, d)
}
