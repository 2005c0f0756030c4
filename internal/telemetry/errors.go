package telemetry

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Category is one of the fixed error classification buckets.
type Category string

const (
	CategoryClientError  Category = "client_error"
	CategoryServerError  Category = "server_error"
	CategoryNetworkError Category = "network_error"
	CategoryTimeoutError Category = "timeout_error"
	CategoryTLSError     Category = "tls_error"
	CategoryOtherError   Category = "other_error"
	CategoryNone         Category = "" // no error: 2xx/3xx
)

// ClassifyStatus resolves a category from an HTTP status code. Status
// code wins whenever the HTTP layer produced a response.
func ClassifyStatus(status int) Category {
	switch {
	case status >= 400 && status <= 499:
		return CategoryClientError
	case status >= 500 && status <= 599:
		return CategoryServerError
	default:
		return CategoryNone
	}
}

// transportRules is the string-rule table over a transport error's
// message, applied only when the HTTP layer produced no response at all.
var transportRules = []struct {
	markers  []string
	category Category
}{
	{[]string{"timeout", "deadline exceeded", "i/o timeout"}, CategoryTimeoutError},
	{[]string{"certificate", "x509", "tls", "handshake"}, CategoryTLSError},
	{[]string{"connection refused", "connect:", "no such host", "dns", "econnrefused", "network is unreachable", "reset by peer"}, CategoryNetworkError},
}

// ClassifyTransportError resolves a category from a transport-level error
// message when no HTTP response was produced.
func ClassifyTransportError(err error) Category {
	if err == nil {
		return CategoryNone
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range transportRules {
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.category
			}
		}
	}
	return CategoryOtherError
}

// ErrorCounters is the process-wide, category-labeled counter set backing
// request_errors_by_category.
type ErrorCounters struct {
	mu     sync.Mutex
	counts map[Category]*uint64
}

// NewErrorCounters constructs an empty counter set.
func NewErrorCounters() *ErrorCounters {
	return &ErrorCounters{counts: make(map[Category]*uint64)}
}

// Increment records one categorized outcome. A CategoryNone outcome
// (success) is not counted.
func (e *ErrorCounters) Increment(cat Category) {
	if cat == CategoryNone {
		return
	}
	e.mu.Lock()
	c, ok := e.counts[cat]
	if !ok {
		var zero uint64
		c = &zero
		e.counts[cat] = c
	}
	e.mu.Unlock()
	atomic.AddUint64(c, 1)
}

// Snapshot returns a point-in-time copy of every category's count.
func (e *ErrorCounters) Snapshot() map[Category]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Category]uint64, len(e.counts))
	for cat, c := range e.counts {
		out[cat] = atomic.LoadUint64(c)
	}
	return out
}
