// Package assertion implements six fixed response-assertion kinds used
// to judge whether a scenario step succeeded.
package assertion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

// Result is one assertion's pass/fail outcome with human-readable
// expected/actual strings.
type Result struct {
	Assertion scenario.Assertion
	Passed    bool
	Actual    string
	Expected  string
	Error     string
}

// Response is the minimal response view assertions need.
type Response struct {
	Status      int
	Body        string
	Headers     http.Header
	ElapsedTime time.Duration // includes body read, excludes think-time
}

// Run evaluates every assertion against resp. A step fails iff any
// assertion fails.
func Run(assertions []scenario.Assertion, resp Response) []Result {
	results := make([]Result, 0, len(assertions))
	for _, a := range assertions {
		err := runOne(a, resp)
		results = append(results, Result{
			Assertion: a,
			Passed:    err == nil,
			Actual:    actualValue(a, resp),
			Expected:  expectedValue(a),
			Error:     errString(err),
		})
	}
	return results
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func runOne(a scenario.Assertion, resp Response) error {
	switch a.Kind {
	case scenario.AssertStatusCode:
		if resp.Status == a.StatusCode {
			return nil
		}
		return fmt.Errorf("status code mismatch: expected %d, got %d", a.StatusCode, resp.Status)

	case scenario.AssertResponseTime:
		if resp.ElapsedTime <= a.MaxResponse {
			return nil
		}
		return fmt.Errorf("response time %dms exceeds threshold %dms",
			resp.ElapsedTime.Milliseconds(), a.MaxResponse.Milliseconds())

	case scenario.AssertJSONPath:
		return assertJSONPath(resp.Body, a.JSONPath, a.JSONExpected)

	case scenario.AssertBodyContains:
		if strings.Contains(resp.Body, a.Substring) {
			return nil
		}
		return fmt.Errorf("body does not contain expected substring: %s", a.Substring)

	case scenario.AssertBodyMatches:
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return fmt.Errorf("regex compilation failed: %w", err)
		}
		if re.MatchString(resp.Body) {
			return nil
		}
		return fmt.Errorf("body does not match regex: %s", a.Pattern)

	case scenario.AssertHeaderExists:
		if resp.Headers.Get(a.HeaderName) != "" {
			return nil
		}
		return fmt.Errorf("header %q not found in response", a.HeaderName)

	default:
		return fmt.Errorf("unknown assertion kind")
	}
}

// assertJSONPath passes iff the path resolves to any value when no
// expected value is given, otherwise the resolved value (stringified)
// must equal expected.
func assertJSONPath(body, path string, expected *string) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	result, err := jsonpath.Get(path, doc)
	if err != nil {
		return fmt.Errorf("JSONPath assertion failed: %w", err)
	}
	if expected == nil {
		return nil // existence only
	}
	actual := jsonValueToString(result)
	if actual == *expected {
		return nil
	}
	return fmt.Errorf("JSONPath %q value mismatch: expected %q, got %q", path, *expected, actual)
}

func jsonValueToString(v interface{}) string {
	switch t := v.(type) {
	case []interface{}:
		if len(t) == 0 {
			return ""
		}
		return jsonValueToString(t[0])
	case string:
		return t
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

const bodyPreviewLimit = 100

func previewBody(body string) string {
	if len(body) > bodyPreviewLimit {
		return body[:bodyPreviewLimit] + "..."
	}
	return body
}

func actualValue(a scenario.Assertion, resp Response) string {
	switch a.Kind {
	case scenario.AssertStatusCode:
		return fmt.Sprintf("%d", resp.Status)
	case scenario.AssertResponseTime:
		return fmt.Sprintf("%dms", resp.ElapsedTime.Milliseconds())
	case scenario.AssertJSONPath:
		return "JSONPath: " + a.JSONPath
	case scenario.AssertBodyContains, scenario.AssertBodyMatches:
		return previewBody(resp.Body)
	case scenario.AssertHeaderExists:
		return fmt.Sprintf("header %q", a.HeaderName)
	default:
		return ""
	}
}

func expectedValue(a scenario.Assertion) string {
	switch a.Kind {
	case scenario.AssertStatusCode:
		return fmt.Sprintf("%d", a.StatusCode)
	case scenario.AssertResponseTime:
		return fmt.Sprintf("<%dms", a.MaxResponse.Milliseconds())
	case scenario.AssertJSONPath:
		if a.JSONExpected != nil {
			return fmt.Sprintf("%s = %s", a.JSONPath, *a.JSONExpected)
		}
		return a.JSONPath + " exists"
	case scenario.AssertBodyContains:
		return fmt.Sprintf("contains %q", a.Substring)
	case scenario.AssertBodyMatches:
		return fmt.Sprintf("matches /%s/", a.Pattern)
	case scenario.AssertHeaderExists:
		return fmt.Sprintf("header %q exists", a.HeaderName)
	default:
		return ""
	}
}
