// Package config implements the scenario config model, loader, and
// validator, plus a config summary renderer and mTLS fields, merging a
// full YAML document with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/steadyq-io/steadyq/internal/loadmodel"
	"github.com/steadyq-io/steadyq/internal/scenario"
	"github.com/steadyq-io/steadyq/internal/workerpool"
)

// MinSupportedVersion and MaxSupportedVersion bound the accepted
// `version` field.
const (
	MinSupportedVersion = "1.0"
	MaxSupportedVersion = "1.0"
)

// Document is the top-level shape of the YAML configuration file.
type Document struct {
	Version   string            `yaml:"version"`
	Metadata  map[string]string `yaml:"metadata,omitempty"`
	Config    RequestConfig     `yaml:"config"`
	Load      LoadConfig        `yaml:"load"`
	Scenarios []ScenarioConfig  `yaml:"scenarios,omitempty"`
	Standby   *StandbyConfig    `yaml:"standby,omitempty"`
}

// RequestConfig is the document's `config` block.
type RequestConfig struct {
	BaseURL        string            `yaml:"baseUrl"`
	Workers        int               `yaml:"workers"`
	TimeoutSeconds int               `yaml:"timeout"`
	DurationSecs   int               `yaml:"duration"`
	Method         string            `yaml:"method,omitempty"`
	Body           string            `yaml:"body,omitempty"`
	SkipTLSVerify  bool              `yaml:"skipTlsVerify,omitempty"`
	CustomHeaders  map[string]string `yaml:"customHeaders,omitempty"`
	ClientCertPath string            `yaml:"clientCertPath,omitempty"` // §12.4
	ClientKeyPath  string            `yaml:"clientKeyPath,omitempty"`  // §12.4
	ResolveTarget  string            `yaml:"resolveTargetAddr,omitempty"` // §12.5, "host:ip:port"
}

// LoadConfig is the document's `load` block: one of the four load-model
// kinds, discriminated by Type.
type LoadConfig struct {
	Type string `yaml:"type"`

	Target float64 `yaml:"targetRps,omitempty"`

	Min          float64 `yaml:"minRps,omitempty"`
	Max          float64 `yaml:"maxRps,omitempty"`
	RampDuration string  `yaml:"rampDuration,omitempty"`

	DailyMin             float64 `yaml:"dailyMinRps,omitempty"`
	DailyMid             float64 `yaml:"dailyMidRps,omitempty"`
	DailyMax             float64 `yaml:"dailyMaxRps,omitempty"`
	CycleDuration        string  `yaml:"dailyCycleDuration,omitempty"`
	MorningRampRatio     float64 `yaml:"morningRampRatio,omitempty"`
	PeakSustainRatio     float64 `yaml:"peakSustainRatio,omitempty"`
	MidDeclineRatio      float64 `yaml:"midDeclineRatio,omitempty"`
	MidSustainRatio      float64 `yaml:"midSustainRatio,omitempty"`
	EveningDeclineRatio  float64 `yaml:"eveningDeclineRatio,omitempty"`
}

// ScenarioConfig is one entry of the document's `scenarios` list.
type ScenarioConfig struct {
	Name      string             `yaml:"name"`
	Weight    float64            `yaml:"weight"`
	Steps     []StepConfig       `yaml:"steps"`
	DataFile  *DataFileConfig    `yaml:"dataFile,omitempty"`
	BaseURL   *string            `yaml:"baseUrl,omitempty"`
	Timeout   *int               `yaml:"timeout,omitempty"`
	Headers   map[string]string  `yaml:"customHeaders,omitempty"`
}

// DataFileConfig mirrors scenario.DataFileConfig in YAML form.
type DataFileConfig struct {
	Path     string `yaml:"path"`
	Format   string `yaml:"format"`
	Strategy string `yaml:"strategy"`
}

// StepConfig is one step of a scenario.
type StepConfig struct {
	Name       string              `yaml:"name"`
	Method     string              `yaml:"method"`
	Path       string              `yaml:"path"`
	Headers    map[string]string   `yaml:"headers,omitempty"`
	Query      map[string]string   `yaml:"query,omitempty"`
	Body       string              `yaml:"body,omitempty"`
	Extractors []ExtractorConfig   `yaml:"extractors,omitempty"`
	Assertions []AssertionConfig   `yaml:"assertions,omitempty"`
	ThinkTime  *ThinkTimeConfig    `yaml:"thinkTime,omitempty"`
	CacheTTL   string              `yaml:"cacheTtl,omitempty"`
	RetryCount int                 `yaml:"retryCount,omitempty"`
	RetryDelay string              `yaml:"retryDelay,omitempty"`
}

// ExtractorConfig is one extractor declaration.
type ExtractorConfig struct {
	Kind  string `yaml:"kind"`
	Name  string `yaml:"name"`
	Path  string `yaml:"path,omitempty"`
	Regex string `yaml:"regex,omitempty"`
	Field string `yaml:"field,omitempty"`
}

// AssertionConfig is one assertion declaration.
type AssertionConfig struct {
	Kind         string  `yaml:"kind"`
	StatusCode   int     `yaml:"statusCode,omitempty"`
	MaxResponse  string  `yaml:"maxResponseTime,omitempty"`
	JSONPath     string  `yaml:"jsonPath,omitempty"`
	JSONExpected *string `yaml:"jsonExpected,omitempty"`
	Substring    string  `yaml:"substring,omitempty"`
	Pattern      string  `yaml:"pattern,omitempty"`
	HeaderName   string  `yaml:"headerName,omitempty"`
}

// ThinkTimeConfig is the think-time pause after a successful step.
type ThinkTimeConfig struct {
	Kind  string `yaml:"kind"` // "fixed" | "random"
	Fixed string `yaml:"fixed,omitempty"`
	Min   string `yaml:"min,omitempty"`
	Max   string `yaml:"max,omitempty"`
}

// StandbyConfig is the document's optional `standby` block.
type StandbyConfig struct {
	Workers int     `yaml:"workers"`
	RPS     float64 `yaml:"rps"`
}

// Model is the fully-validated, resolved configuration: a Document that
// has passed Validate and had its durations/models parsed into their Go
// forms, ready to become a workerpool.Config.
type Model struct {
	Doc        Document
	PoolConfig workerpool.Config
	Raw        []byte // the exact YAML bytes this Model was parsed from, for §4.19's current_yaml field
}

var (
	ErrUnsupportedVersion = errors.New("config: unsupported version")
	ErrInvalidBaseURL     = errors.New("config: baseUrl must be an absolute http(s) URL")
	ErrInvalidWorkers     = errors.New("config: workers must be >= 1")
	ErrInvalidDuration    = errors.New("config: duration fields must be parseable and non-negative")
	ErrNoSteps            = errors.New("config: scenario must have at least one step")
	ErrIncompleteMTLS     = errors.New("config: clientCertPath and clientKeyPath must be set together")
	ErrUnknownLoadType    = errors.New("config: unknown load model type")
	ErrInvalidWeights     = errors.New("config: scenario weights must sum to a strictly positive total")
)

// Parse validates doc and resolves it into a Model. Unknown YAML fields
// are rejected earlier, by the KnownFields(true) decoder set up in
// loader.go.
func Parse(doc Document) (*Model, error) {
	if err := validateVersion(doc.Version); err != nil {
		return nil, err
	}
	if err := validateRequestConfig(doc.Config); err != nil {
		return nil, err
	}
	model, err := resolveLoadModel(doc.Load)
	if err != nil {
		return nil, err
	}
	scenarios, err := resolveScenarios(doc.Scenarios)
	if err != nil {
		return nil, err
	}

	pc := workerpool.Config{
		BaseURL:            doc.Config.BaseURL,
		Method:             scenario.Method(strings.ToUpper(orDefault(doc.Config.Method, "GET"))),
		Headers:            doc.Config.CustomHeaders,
		Body:               doc.Config.Body,
		NumConcurrentTasks: doc.Config.Workers,
		TestDuration:       time.Duration(doc.Config.DurationSecs) * time.Second,
		LoadModel:          model,
		Scenarios:          scenarios,
		PercentileSamplingRate: 100,
	}
	if doc.Standby != nil {
		pc.Standby = &workerpool.StandbyConfig{Workers: doc.Standby.Workers, RPS: doc.Standby.RPS}
	}

	return &Model{Doc: doc, PoolConfig: pc}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func validateVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: version is required", ErrUnsupportedVersion)
	}
	if v < MinSupportedVersion || v > MaxSupportedVersion {
		return fmt.Errorf("%w: %q not in [%s, %s]", ErrUnsupportedVersion, v, MinSupportedVersion, MaxSupportedVersion)
	}
	return nil
}

func validateRequestConfig(c RequestConfig) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	if c.DurationSecs < 0 || c.TimeoutSeconds < 0 {
		return ErrInvalidDuration
	}
	if (c.ClientCertPath == "") != (c.ClientKeyPath == "") {
		return ErrIncompleteMTLS
	}
	return nil
}

func resolveLoadModel(l LoadConfig) (loadmodel.Model, error) {
	switch strings.ToLower(l.Type) {
	case "concurrent":
		return loadmodel.Model{Kind: loadmodel.Concurrent}, nil
	case "rps":
		if l.Target < 0 {
			return loadmodel.Model{}, fmt.Errorf("%w: rps target must be >= 0", ErrInvalidDuration)
		}
		return loadmodel.Model{Kind: loadmodel.Rps, Target: l.Target}, nil
	case "ramprps", "ramp_rps", "ramp-rps":
		d, err := loadmodel.ParseDuration(orDefault(l.RampDuration, "0s"))
		if err != nil {
			return loadmodel.Model{}, fmt.Errorf("%w: rampDuration: %v", ErrInvalidDuration, err)
		}
		return loadmodel.Model{Kind: loadmodel.RampRps, Min: l.Min, Max: l.Max, RampDuration: d}, nil
	case "dailytraffic", "daily_traffic", "daily-traffic":
		d, err := loadmodel.ParseDuration(orDefault(l.CycleDuration, "24h"))
		if err != nil {
			return loadmodel.Model{}, fmt.Errorf("%w: dailyCycleDuration: %v", ErrInvalidDuration, err)
		}
		return loadmodel.Model{
			Kind:                l.dailyKind(),
			Min:                 l.DailyMin,
			Max:                 l.DailyMax,
			MidRps:              l.DailyMid,
			CycleDuration:       d,
			MorningRampRatio:    l.MorningRampRatio,
			PeakSustainRatio:    l.PeakSustainRatio,
			MidDeclineRatio:     l.MidDeclineRatio,
			MidSustainRatio:     l.MidSustainRatio,
			EveningDeclineRatio: l.EveningDeclineRatio,
		}, nil
	default:
		return loadmodel.Model{}, fmt.Errorf("%w: %q", ErrUnknownLoadType, l.Type)
	}
}

func (l LoadConfig) dailyKind() loadmodel.Kind { return loadmodel.DailyTraffic }

func resolveScenarios(cfgs []ScenarioConfig) ([]scenario.Scenario, error) {
	out := make([]scenario.Scenario, 0, len(cfgs))
	var totalWeight float64
	for _, sc := range cfgs {
		if len(sc.Steps) == 0 {
			return nil, fmt.Errorf("%w: scenario %q", ErrNoSteps, sc.Name)
		}
		steps, err := resolveSteps(sc.Steps)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		s := scenario.Scenario{Name: sc.Name, Weight: sc.Weight, Steps: steps}
		if sc.DataFile != nil {
			s.DataFile = &scenario.DataFileConfig{
				Path:     sc.DataFile.Path,
				Format:   scenario.DataFormat(sc.DataFile.Format),
				Strategy: scenario.DataStrategy(sc.DataFile.Strategy),
			}
		}
		if sc.BaseURL != nil || sc.Timeout != nil || len(sc.Headers) > 0 {
			s.Overrides = &scenario.Overrides{BaseURL: sc.BaseURL, TimeoutSeconds: sc.Timeout, CustomHeaders: sc.Headers}
		}
		totalWeight += sc.Weight
		out = append(out, s)
	}
	if len(out) > 0 && totalWeight <= 0 {
		return nil, ErrInvalidWeights
	}
	return out, nil
}

func resolveSteps(cfgs []StepConfig) ([]scenario.Step, error) {
	out := make([]scenario.Step, 0, len(cfgs))
	for _, sc := range cfgs {
		step := scenario.Step{
			Name: sc.Name,
			Request: scenario.Request{
				Method:  scenario.Method(strings.ToUpper(orDefault(sc.Method, "GET"))),
				Path:    sc.Path,
				Headers: sc.Headers,
				Query:   sc.Query,
				Body:    sc.Body,
			},
			RetryCount: sc.RetryCount,
		}
		if sc.RetryDelay != "" {
			d, err := loadmodel.ParseDuration(sc.RetryDelay)
			if err != nil {
				return nil, fmt.Errorf("step %q: retryDelay: %w", sc.Name, err)
			}
			step.RetryDelay = d
		} else if sc.RetryCount > 0 {
			step.RetryDelay = 500 * time.Millisecond
		}
		if sc.CacheTTL != "" {
			d, err := loadmodel.ParseDuration(sc.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("step %q: cacheTtl: %w", sc.Name, err)
			}
			step.Cache = &scenario.CacheConfig{TTL: d}
		}
		extractors, err := resolveExtractors(sc.Extractors)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sc.Name, err)
		}
		step.Extractors = extractors

		assertions, err := resolveAssertions(sc.Assertions)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sc.Name, err)
		}
		step.Assertions = assertions

		if sc.ThinkTime != nil {
			tt, err := resolveThinkTime(*sc.ThinkTime)
			if err != nil {
				return nil, fmt.Errorf("step %q: thinkTime: %w", sc.Name, err)
			}
			step.ThinkTime = &tt
		}

		out = append(out, step)
	}
	return out, nil
}

func resolveExtractors(cfgs []ExtractorConfig) ([]scenario.Extractor, error) {
	out := make([]scenario.Extractor, 0, len(cfgs))
	for _, e := range cfgs {
		var kind scenario.ExtractorKind
		switch strings.ToLower(e.Kind) {
		case "jsonpath":
			kind = scenario.ExtractJSONPath
		case "regex":
			kind = scenario.ExtractRegex
		case "header":
			kind = scenario.ExtractHeader
		case "cookie":
			kind = scenario.ExtractCookie
		default:
			return nil, fmt.Errorf("unknown extractor kind %q", e.Kind)
		}
		if e.Name == "" {
			return nil, errors.New("extractor missing name")
		}
		out = append(out, scenario.Extractor{Kind: kind, Name: e.Name, Path: e.Path, Regex: e.Regex, Field: e.Field})
	}
	return out, nil
}

func resolveAssertions(cfgs []AssertionConfig) ([]scenario.Assertion, error) {
	out := make([]scenario.Assertion, 0, len(cfgs))
	for _, a := range cfgs {
		var kind scenario.AssertionKind
		switch strings.ToLower(a.Kind) {
		case "statuscode":
			kind = scenario.AssertStatusCode
		case "responsetime":
			kind = scenario.AssertResponseTime
		case "jsonpath":
			kind = scenario.AssertJSONPath
		case "bodycontains":
			kind = scenario.AssertBodyContains
		case "bodymatches":
			kind = scenario.AssertBodyMatches
		case "headerexists":
			kind = scenario.AssertHeaderExists
		default:
			return nil, fmt.Errorf("unknown assertion kind %q", a.Kind)
		}
		assertion := scenario.Assertion{
			Kind:         kind,
			StatusCode:   a.StatusCode,
			JSONPath:     a.JSONPath,
			JSONExpected: a.JSONExpected,
			Substring:    a.Substring,
			Pattern:      a.Pattern,
			HeaderName:   a.HeaderName,
		}
		if a.MaxResponse != "" {
			d, err := loadmodel.ParseDuration(a.MaxResponse)
			if err != nil {
				return nil, fmt.Errorf("assertion maxResponseTime: %w", err)
			}
			assertion.MaxResponse = d
		}
		out = append(out, assertion)
	}
	return out, nil
}

func resolveThinkTime(cfg ThinkTimeConfig) (scenario.ThinkTime, error) {
	switch strings.ToLower(cfg.Kind) {
	case "fixed":
		d, err := loadmodel.ParseDuration(cfg.Fixed)
		if err != nil {
			return scenario.ThinkTime{}, err
		}
		return scenario.ThinkTime{Kind: scenario.ThinkFixed, Fixed: d}, nil
	case "random":
		min, err := loadmodel.ParseDuration(cfg.Min)
		if err != nil {
			return scenario.ThinkTime{}, err
		}
		max, err := loadmodel.ParseDuration(cfg.Max)
		if err != nil {
			return scenario.ThinkTime{}, err
		}
		return scenario.ThinkTime{Kind: scenario.ThinkRandom, Min: min, Max: max}, nil
	default:
		return scenario.ThinkTime{}, fmt.Errorf("unknown thinkTime kind %q", cfg.Kind)
	}
}
