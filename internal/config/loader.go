package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a YAML config file from path, rejecting
// unknown fields, then applies environment overrides (precedence: env
// > file > defaults) before validating.
func LoadFile(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes is LoadFile without the filesystem read, used by the cluster
// config fetcher and hot-reload.
func LoadBytes(raw []byte) (*Model, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	ApplyEnvOverrides(&doc)
	model, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	model.Raw = raw
	return model, nil
}

// ApplyEnvOverrides merges the supported environment-variable overrides
// on top of doc, in place. Invalid or empty env values silently fall
// back to the already-parsed file value rather than erroring.
func ApplyEnvOverrides(doc *Document) {
	if v, ok := lookupNonEmpty("TARGET_URL"); ok {
		doc.Config.BaseURL = v
	}
	if v, ok := lookupNonEmpty("REQUEST_TYPE"); ok {
		doc.Config.Method = v
	}
	if n, ok := lookupInt("NUM_CONCURRENT_TASKS"); ok {
		doc.Config.Workers = n
	}
	if n, ok := lookupInt("TEST_DURATION"); ok {
		doc.Config.DurationSecs = n
	}
	if b, ok := lookupBool("SKIP_TLS_VERIFY"); ok {
		doc.Config.SkipTLSVerify = b
	}
	if v, ok := lookupNonEmpty("LOAD_MODEL_TYPE"); ok {
		doc.Load.Type = v
	}
	if f, ok := lookupFloat("TARGET_RPS"); ok {
		doc.Load.Target = f
	}
	if f, ok := lookupFloat("MIN_RPS"); ok {
		doc.Load.Min = f
	}
	if f, ok := lookupFloat("MAX_RPS"); ok {
		doc.Load.Max = f
	}
	if v, ok := lookupNonEmpty("RAMP_DURATION"); ok {
		doc.Load.RampDuration = v
	}
	if f, ok := lookupFloat("DAILY_MIN_RPS"); ok {
		doc.Load.DailyMin = f
	}
	if f, ok := lookupFloat("DAILY_MID_RPS"); ok {
		doc.Load.DailyMid = f
	}
	if f, ok := lookupFloat("DAILY_MAX_RPS"); ok {
		doc.Load.DailyMax = f
	}
	if v, ok := lookupNonEmpty("DAILY_CYCLE_DURATION"); ok {
		doc.Load.CycleDuration = v
	}
	if f, ok := lookupFloat("MORNING_RAMP_RATIO"); ok {
		doc.Load.MorningRampRatio = f
	}
	if f, ok := lookupFloat("PEAK_SUSTAIN_RATIO"); ok {
		doc.Load.PeakSustainRatio = f
	}
	if f, ok := lookupFloat("MID_DECLINE_RATIO"); ok {
		doc.Load.MidDeclineRatio = f
	}
	if f, ok := lookupFloat("MID_SUSTAIN_RATIO"); ok {
		doc.Load.MidSustainRatio = f
	}
	if f, ok := lookupFloat("EVENING_DECLINE_RATIO"); ok {
		doc.Load.EveningDeclineRatio = f
	}
	if v, ok := lookupNonEmpty("CLIENT_CERT_PATH"); ok {
		doc.Config.ClientCertPath = v
	}
	if v, ok := lookupNonEmpty("CLIENT_KEY_PATH"); ok {
		doc.Config.ClientKeyPath = v
	}
	if v, ok := lookupNonEmpty("RESOLVE_TARGET_ADDR"); ok {
		doc.Config.ResolveTarget = v
	}
	if v, ok := lookupNonEmpty("CUSTOM_HEADERS"); ok {
		if h, err := ParseCustomHeaders(v); err == nil {
			doc.Config.CustomHeaders = h
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return "", false
	}
	return v, true
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// ParseCustomHeaders parses the `Name:Value,Name2:Value2` format, where
// a literal comma in a value is escaped as `\,`.
func ParseCustomHeaders(s string) (map[string]string, error) {
	out := make(map[string]string)
	var cur []byte
	parts := make([]string, 0)
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == ',' {
			cur = append(cur, ',')
			i++
			continue
		}
		if s[i] == ',' {
			parts = append(parts, string(cur))
			cur = nil
			continue
		}
		cur = append(cur, s[i])
	}
	parts = append(parts, string(cur))

	for _, p := range parts {
		if p == "" {
			continue
		}
		idx := indexByte(p, ':')
		if idx < 0 {
			return nil, fmt.Errorf("config: invalid header pair %q", p)
		}
		out[p[:idx]] = p[idx+1:]
	}
	return out, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// DebounceDefault is the hot-reload notifier's default debounce window.
const DebounceDefault = 500 * time.Millisecond
