package executor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/telemetry"
	"github.com/steadyq-io/steadyq/internal/vucontext"
)

func newTestHub() *telemetry.Hub {
	telemetry.SetTrackingActive(true)
	return telemetry.NewHub(100, 100*time.Millisecond, nil)
}

func TestExecuteExtractionThenSubstitution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"X7"}`))
		case "/item/X7":
			w.WriteHeader(200)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	sc := scenario.Scenario{
		Name:   "itemFlow",
		Weight: 1,
		Steps: []scenario.Step{
			{
				Name:       "fetch",
				Request:    scenario.Request{Method: scenario.MethodGET, Path: "/item"},
				Extractors: []scenario.Extractor{{Kind: scenario.ExtractJSONPath, Name: "pid", Path: "$.id"}},
			},
			{
				Name:    "get",
				Request: scenario.Request{Method: scenario.MethodGET, Path: "/item/${pid}"},
			},
		},
	}

	e := New(newTestHub(), nil)
	result := e.Execute(context.Background(), srv.URL, sc, srv.Client(), vucontext.New(), NewCache(), nil)

	require.True(t, result.OK)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, 200, result.Steps[1].Status)
}

func TestExecuteAssertionFailureFailsStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	sc := scenario.Scenario{
		Name: "checkStatus",
		Steps: []scenario.Step{
			{
				Name:       "s1",
				Request:    scenario.Request{Method: scenario.MethodGET, Path: "/"},
				Assertions: []scenario.Assertion{{Kind: scenario.AssertStatusCode, StatusCode: 200}},
			},
		},
	}

	e := New(newTestHub(), nil)
	result := e.Execute(context.Background(), srv.URL, sc, srv.Client(), vucontext.New(), NewCache(), nil)

	assert.False(t, result.OK)
	require.NotNil(t, result.FailedAtStep)
	assert.Equal(t, 0, *result.FailedAtStep)
	assert.Equal(t, 1, result.Steps[0].AssertionsFailed)
}

func TestExecuteStepCacheSkipsSecondCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"id":"cached-val"}`))
	}))
	defer srv.Close()

	sc := scenario.Scenario{
		Name: "cached",
		Steps: []scenario.Step{
			{
				Name:       "fetch",
				Request:    scenario.Request{Method: scenario.MethodGET, Path: "/item"},
				Extractors: []scenario.Extractor{{Kind: scenario.ExtractJSONPath, Name: "pid", Path: "$.id"}},
				Cache:      &scenario.CacheConfig{TTL: time.Minute},
			},
		},
	}

	e := New(newTestHub(), nil)
	cache := NewCache()

	r1 := e.Execute(context.Background(), srv.URL, sc, srv.Client(), vucontext.New(), cache, nil)
	require.True(t, r1.OK)
	assert.False(t, r1.Steps[0].CacheHit)

	r2 := e.Execute(context.Background(), srv.URL, sc, srv.Client(), vucontext.New(), cache, nil)
	require.True(t, r2.OK)
	assert.True(t, r2.Steps[0].CacheHit)

	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteRetriesTransportFailureNotAssertionFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	sc := scenario.Scenario{
		Name: "retrying",
		Steps: []scenario.Step{
			{
				Name:       "flaky",
				Request:    scenario.Request{Method: scenario.MethodGET, Path: "/"},
				RetryCount: 3,
				RetryDelay: time.Millisecond,
			},
		},
	}

	e := New(newTestHub(), nil)
	result := e.Execute(context.Background(), srv.URL, sc, srv.Client(), vucontext.New(), NewCache(), nil)

	assert.True(t, result.OK)
	assert.Equal(t, int64(3), calls.Load())
}

func TestBuildRequestSubstitutesQueryAndHeaders(t *testing.T) {
	var gotQuery, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-User")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	vu := vucontext.New()
	vu.Set("uid", "42")

	req, err := buildRequest(context.Background(), srv.URL, scenario.Request{
		Method:  scenario.MethodGET,
		Path:    "/",
		Query:   map[string]string{"user": "${uid}"},
		Headers: map[string]string{"X-User": "${uid}"},
	}, vu)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, fmt.Sprintf("user=42"), gotQuery)
	assert.Equal(t, "42", gotHeader)
}
