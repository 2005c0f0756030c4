// Package extract implements four extractor kinds used to bind values
// from an HTTP response into scenario variables: JSONPath, Regex,
// Header, and Cookie. JSONPath multi-match binds the first match, and
// Regex binds positional capture group 1.
package extract

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/PaesslerAG/jsonpath"

	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/vucontext"
)

// Response is the minimal response view extractors need, decoupled from
// any specific HTTP client type.
type Response struct {
	Body    string
	Headers http.Header // response headers, including Set-Cookie
}

// Apply runs every extractor against resp, binding names into ctx.
// Extraction failures are silent: a failed extractor simply leaves the
// target variable unset rather than aborting the request.
func Apply(extractors []scenario.Extractor, resp Response, ctx *vucontext.Context) {
	for _, ex := range extractors {
		switch ex.Kind {
		case scenario.ExtractJSONPath:
			if v, ok := extractJSONPath(resp.Body, ex.Path); ok {
				ctx.Set(ex.Name, v)
			}
		case scenario.ExtractRegex:
			if v, ok := extractRegex(resp.Body, ex.Regex); ok {
				ctx.Set(ex.Name, v)
			}
		case scenario.ExtractHeader:
			if v, ok := extractHeader(resp.Headers, ex.Field); ok {
				ctx.Set(ex.Name, v)
			}
		case scenario.ExtractCookie:
			if v, ok := extractCookie(resp.Headers, ex.Field); ok {
				ctx.Set(ex.Name, v)
			}
		}
	}
}

// extractJSONPath parses body as JSON and evaluates a JSONPath
// expression, e.g. `$.a.b`, `$.a[0].b`, `$.a[*]`. On multiple matches,
// the first is bound.
func extractJSONPath(body string, path string) (string, bool) {
	var doc interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", false
	}
	result, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", false
	}
	switch v := result.(type) {
	case []interface{}:
		if len(v) == 0 {
			return "", false
		}
		return stringifyJSONValue(v[0]), true
	default:
		return stringifyJSONValue(v), true
	}
}

func stringifyJSONValue(v interface{}) string {
	switch t := v.(type) {
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

// extractRegex applies pattern to body and binds capture group 1. No
// match (or no such group) is a silent skip.
func extractRegex(body, pattern string) (string, bool) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// extractHeader binds the first value of the named header,
// case-insensitively (http.Header.Get already canonicalizes the name).
func extractHeader(h http.Header, name string) (string, bool) {
	v := h.Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// extractCookie binds the value of the named cookie from the response's
// Set-Cookie header set.
func extractCookie(h http.Header, name string) (string, bool) {
	resp := &http.Response{Header: h}
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
