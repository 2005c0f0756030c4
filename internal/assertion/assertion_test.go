package assertion

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

func strPtr(s string) *string { return &s }

func TestStatusCodeAssertion(t *testing.T) {
	results := Run([]scenario.Assertion{{Kind: scenario.AssertStatusCode, StatusCode: 200}},
		Response{Status: 200})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertStatusCode, StatusCode: 200}},
		Response{Status: 500})
	assert.False(t, results[0].Passed)
}

func TestResponseTimeAssertion(t *testing.T) {
	results := Run([]scenario.Assertion{{Kind: scenario.AssertResponseTime, MaxResponse: 500 * time.Millisecond}},
		Response{ElapsedTime: 300 * time.Millisecond})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertResponseTime, MaxResponse: 500 * time.Millisecond}},
		Response{ElapsedTime: 700 * time.Millisecond})
	assert.False(t, results[0].Passed)
}

func TestJSONPathExistenceAndValueMatch(t *testing.T) {
	body := `{"status":"ok"}`

	results := Run([]scenario.Assertion{{Kind: scenario.AssertJSONPath, JSONPath: "$.status"}},
		Response{Body: body})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertJSONPath, JSONPath: "$.status", JSONExpected: strPtr("ok")}},
		Response{Body: body})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertJSONPath, JSONPath: "$.status", JSONExpected: strPtr("error")}},
		Response{Body: body})
	assert.False(t, results[0].Passed)
}

func TestBodyContainsAndMatches(t *testing.T) {
	body := "Order #12345 confirmed"

	results := Run([]scenario.Assertion{{Kind: scenario.AssertBodyContains, Substring: "confirmed"}}, Response{Body: body})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertBodyMatches, Pattern: `Order #\d+`}}, Response{Body: body})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertBodyMatches, Pattern: `Order #\d+`}}, Response{Body: "no order"})
	assert.False(t, results[0].Passed)
}

func TestHeaderExists(t *testing.T) {
	h := http.Header{}
	h.Set("X-Trace-Id", "abc")

	results := Run([]scenario.Assertion{{Kind: scenario.AssertHeaderExists, HeaderName: "X-Trace-Id"}}, Response{Headers: h})
	assert.True(t, results[0].Passed)

	results = Run([]scenario.Assertion{{Kind: scenario.AssertHeaderExists, HeaderName: "X-Missing"}}, Response{Headers: h})
	assert.False(t, results[0].Passed)
}

func TestRunMultipleAssertionsStepFailsIfAnyFails(t *testing.T) {
	assertions := []scenario.Assertion{
		{Kind: scenario.AssertStatusCode, StatusCode: 200},
		{Kind: scenario.AssertStatusCode, StatusCode: 404},
		{Kind: scenario.AssertBodyContains, Substring: "test"},
	}
	results := Run(assertions, Response{Status: 200, Body: "this is a test"})

	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)
}
