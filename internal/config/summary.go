package config

import (
	"fmt"
	"strings"

	"github.com/steadyq-io/steadyq/internal/loadmodel"
)

// Summary renders a human-readable multi-line report of the model. No
// command in this module prints it.
func (m *Model) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "target:      %s %s\n", m.Doc.Config.Method, m.Doc.Config.BaseURL)
	fmt.Fprintf(&b, "workers:     %d\n", m.Doc.Config.Workers)
	fmt.Fprintf(&b, "duration:    %s\n", loadmodel.FormatSeconds(m.PoolConfig.TestDuration))
	fmt.Fprintf(&b, "load model:  %s\n", describeLoadModel(m.PoolConfig.LoadModel))
	if m.Doc.Config.SkipTLSVerify {
		b.WriteString("tls:         verification disabled\n")
	}
	if m.Doc.Config.ClientCertPath != "" {
		fmt.Fprintf(&b, "mtls:        cert=%s key=%s\n", m.Doc.Config.ClientCertPath, m.Doc.Config.ClientKeyPath)
	}
	if len(m.Doc.Config.CustomHeaders) > 0 {
		keys := make([]string, 0, len(m.Doc.Config.CustomHeaders))
		for k := range m.Doc.Config.CustomHeaders {
			keys = append(keys, k)
		}
		fmt.Fprintf(&b, "headers:     %s\n", strings.Join(keys, ", "))
	}
	if len(m.Doc.Scenarios) > 0 {
		fmt.Fprintf(&b, "scenarios:   %d\n", len(m.Doc.Scenarios))
	}
	return b.String()
}

func describeLoadModel(lm loadmodel.Model) string {
	switch lm.Kind {
	case loadmodel.Concurrent:
		return "concurrent"
	case loadmodel.Rps:
		return fmt.Sprintf("rps target=%.1f", lm.Target)
	case loadmodel.RampRps:
		return fmt.Sprintf("rampRps min=%.1f max=%.1f over %s", lm.Min, lm.Max, lm.RampDuration)
	case loadmodel.DailyTraffic:
		return fmt.Sprintf("dailyTraffic min=%.1f mid=%.1f max=%.1f cycle=%s", lm.Min, lm.MidRps, lm.Max, lm.CycleDuration)
	default:
		return "unknown"
	}
}
