// Package loadmodel parses duration strings and evaluates load-model rate
// curves.
package loadmodel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts "<n>s|m|h|d" or a bare integer interpreted as
// seconds. Negative values are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration %q is negative", s)
		}
		return time.Duration(n) * time.Second, nil
	}

	unit := s[len(s)-1]
	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	case 'd':
		mult = 24 * time.Hour
	default:
		return 0, fmt.Errorf("duration %q has unknown unit %q", s, unit)
	}

	numPart := s[:len(s)-1]
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration %q is negative", s)
	}
	return time.Duration(n * float64(mult)), nil
}

// FormatSeconds renders a duration back as an integer-seconds decimal
// string, the inverse of ParseDuration.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d.Seconds()), 10)
}
