// Package executor implements the scenario execution engine: sequential
// steps, variable substitution, extraction, assertions, think-time, and
// early-exit on failure.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steadyq-io/steadyq/internal/assertion"
	"github.com/steadyq-io/steadyq/internal/datasource"
	"github.com/steadyq-io/steadyq/internal/extract"
	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/vucontext"
)

// Executor runs scenario executions against a base URL, recording
// telemetry through a shared Hub.
type Executor struct {
	hub *telemetry.Hub
	log *zap.Logger
}

// New constructs an Executor. hub may be nil in tests that don't care
// about telemetry side effects.
func New(hub *telemetry.Hub, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{hub: hub, log: log}
}

// Execute runs one full scenario execution. dataRow, if non-nil, is
// merged into the VU context before the first step. cache is the
// per-worker step-result cache; pass NewCache() once per worker and
// reuse it across executions.
func (e *Executor) Execute(
	ctx context.Context,
	baseURL string,
	sc scenario.Scenario,
	client *http.Client,
	vu *vucontext.Context,
	cache *Cache,
	dataRow datasource.Row,
) scenario.ScenarioResult {
	start := time.Now()
	vu.Reset()
	if dataRow != nil {
		vu.Merge(map[string]string(dataRow))
	}

	if e.hub != nil {
		e.hub.ConcurrentRequests.Inc()
		defer e.hub.ConcurrentRequests.Dec()
	}

	result := scenario.ScenarioResult{Name: sc.Name, OK: true}

	for i, step := range sc.Steps {
		stepResult := e.executeStep(ctx, baseURL, sc.Name, step, client, vu, cache)
		stepResult.Index = i
		result.Steps = append(result.Steps, stepResult)

		if !stepResult.OK {
			result.OK = false
			failedAt := i
			result.FailedAtStep = &failedAt
			result.TotalLatency = time.Since(start)
			e.recordScenarioOutcome(sc.Name, result)
			return result
		}

		if step.ThinkTime != nil {
			sleepThinkTime(ctx, *step.ThinkTime)
		}
		vu.NextStep()
	}

	result.TotalLatency = time.Since(start)
	e.recordScenarioOutcome(sc.Name, result)
	return result
}

func (e *Executor) recordScenarioOutcome(scenarioName string, result scenario.ScenarioResult) {
	if e.hub == nil {
		return
	}
	e.hub.Percentiles.Record(scenarioName, result.TotalLatency)
	e.hub.Throughput.RecordCompletion(scenarioName)
	outcome := "success"
	if !result.OK {
		outcome = "failure"
	}
	e.hub.ScenarioRequests.WithLabelValues(scenarioName, outcome).Inc()
	e.hub.ScenarioThroughput.WithLabelValues(scenarioName).Set(e.hub.Throughput.Rps(scenarioName))
}

// executeStep runs one step, including the cache check, retries, and
// metric recording.
func (e *Executor) executeStep(
	ctx context.Context,
	baseURL, scenarioName string,
	step scenario.Step,
	client *http.Client,
	vu *vucontext.Context,
	cache *Cache,
) scenario.StepResult {
	label := scenarioName
	if step.Name != "" {
		label = scenarioName + ":" + step.Name
	}

	if step.Cache != nil && step.Name != "" {
		if vars, ok := cache.Get(step.Name); ok {
			vu.Merge(vars)
			return scenario.StepResult{Name: step.Name, OK: true, CacheHit: true}
		}
	}

	attempts := step.RetryCount + 1
	var last scenario.StepResult
	for attempt := 0; attempt < attempts; attempt++ {
		last = e.executeStepOnce(ctx, baseURL, label, step, client, vu)
		if last.OK || last.AssertionsFailed > 0 {
			// Assertion failures are never retried.
			break
		}
		if attempt < attempts-1 {
			sleepCtx(ctx, step.RetryDelay)
		}
	}

	if last.OK && step.Cache != nil && step.Name != "" {
		cache.Put(step.Name, extractedVars(step, vu), step.Cache.TTL)
	}

	return last
}

// extractedVars reads back the values this step's extractors bound, so a
// later cache hit can re-apply exactly what this execution extracted.
func extractedVars(step scenario.Step, vu *vucontext.Context) map[string]string {
	out := make(map[string]string, len(step.Extractors))
	for _, ex := range step.Extractors {
		if v, ok := vu.Get(ex.Name); ok {
			out[ex.Name] = v
		}
	}
	return out
}

func (e *Executor) executeStepOnce(
	ctx context.Context,
	baseURL, metricLabel string,
	step scenario.Step,
	client *http.Client,
	vu *vucontext.Context,
) scenario.StepResult {
	httpReq, err := buildRequest(ctx, baseURL, step.Request, vu)
	if err != nil {
		return scenario.StepResult{Name: step.Name, OK: false, Error: err.Error()}
	}

	reqStart := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		latency := time.Since(reqStart)
		e.recordError(metricLabel, latency, telemetry.ClassifyTransportError(err))
		return scenario.StepResult{Name: step.Name, OK: false, Latency: latency, Error: err.Error()}
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(httpResp.Body) // always fully drained, even on error paths
	latency := time.Since(reqStart)

	extract.Apply(step.Extractors, extract.Response{Body: string(body), Headers: httpResp.Header}, vu)

	results := assertion.Run(step.Assertions, assertion.Response{
		Status: httpResp.StatusCode, Body: string(body), Headers: httpResp.Header, ElapsedTime: latency,
	})

	passed, failed := 0, 0
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
		if e.hub != nil {
			outcome := "pass"
			if !r.Passed {
				outcome = "fail"
			}
			e.hub.ScenarioAssertions.WithLabelValues(outcome).Inc()
		}
	}

	cat := telemetry.ClassifyStatus(httpResp.StatusCode)
	e.recordSuccess(metricLabel, latency, httpResp.StatusCode, cat)

	httpOK := httpResp.StatusCode >= 200 && httpResp.StatusCode < 400
	ok := httpOK && failed == 0

	sr := scenario.StepResult{
		Name:             step.Name,
		OK:               ok,
		Status:           httpResp.StatusCode,
		Latency:          latency,
		AssertionsPassed: passed,
		AssertionsFailed: failed,
	}
	if !httpOK {
		sr.Error = fmt.Sprintf("unexpected status %d", httpResp.StatusCode)
	}
	return sr
}

func (e *Executor) recordError(label string, latency time.Duration, cat telemetry.Category) {
	if e.hub == nil {
		return
	}
	e.hub.Percentiles.Record(label, latency)
	e.hub.RequestsTotal.WithLabelValues("error").Inc()
	e.hub.Errors.Increment(cat)
	e.hub.ErrorsByCategory.WithLabelValues(string(cat)).Inc()
}

func (e *Executor) recordSuccess(label string, latency time.Duration, status int, cat telemetry.Category) {
	if e.hub == nil {
		return
	}
	e.hub.Percentiles.Record(label, latency)
	outcome := "success"
	if cat != telemetry.CategoryNone {
		outcome = "error"
		e.hub.Errors.Increment(cat)
		e.hub.ErrorsByCategory.WithLabelValues(string(cat)).Inc()
	}
	e.hub.RequestsTotal.WithLabelValues(outcome).Inc()
	e.hub.StatusCodes.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
}

// buildRequest substitutes variables and builds an *http.Request.
// Substitution order is path, body, header values, then query-parameter
// values.
func buildRequest(ctx context.Context, baseURL string, req scenario.Request, vu *vucontext.Context) (*http.Request, error) {
	path := vu.Substitute(req.Path)
	body := vu.Substitute(req.Body)
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = vu.Substitute(v)
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}

	if len(req.Query) > 0 {
		qs := make([]string, 0, len(req.Query))
		for k, v := range req.Query {
			qs = append(qs, k+"="+vu.Substitute(v))
		}
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + strings.Join(qs, "&")
	}

	var bodyReader io.Reader
	if body != "" {
		bodyReader = bytes.NewBufferString(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), url, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func sleepThinkTime(ctx context.Context, tt scenario.ThinkTime) {
	var d time.Duration
	switch tt.Kind {
	case scenario.ThinkFixed:
		d = tt.Fixed
	case scenario.ThinkRandom:
		if tt.Max > tt.Min {
			d = tt.Min + time.Duration(rand.Int63n(int64(tt.Max-tt.Min)))
		} else {
			d = tt.Min
		}
	}
	sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
