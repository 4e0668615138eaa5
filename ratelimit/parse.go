package ratelimit

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var rateRe = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([a-zA-Z/]*)$`)

// bytes per second for one unit
var rateUnits = map[string]float64{
	"":      1,
	"b/s":   1,
	"kb/s":  1e3,
	"mb/s":  1e6,
	"gb/s":  1e9,
	"kib/s": 1 << 10,
	"mib/s": 1 << 20,
	"gib/s": 1 << 30,
	"bps":   1.0 / 8,
	"kbps":  1e3 / 8,
	"mbps":  1e6 / 8,
	"gbps":  1e9 / 8,
}

// ParseRate converts a rate limit setting into bytes per second. Numbers are
// bytes per second; strings may carry a unit, e.g. "250 kbps" or "1.5 MB/s".
// nil and "" mean no limit.
func ParseRate(v any) (int64, error) {
	switch rate := v.(type) {
	case nil:
		return 0, nil
	case int:
		return checkRate(float64(rate))
	case int64:
		return checkRate(float64(rate))
	case uint:
		return checkRate(float64(rate))
	case uint64:
		return checkRate(float64(rate))
	case float64:
		return checkRate(rate)
	case string:
		return parseRateString(rate)
	default:
		return 0, fmt.Errorf("unsupported rate limit value: %v (%T)", v, v)
	}
}

func parseRateString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	m := rateRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid rate limit: %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit: %q: %w", s, err)
	}

	factor, ok := rateUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("invalid rate limit unit: %q", m[2])
	}

	return checkRate(value * factor)
}

func checkRate(bytesPerSecond float64) (int64, error) {
	if bytesPerSecond < 0 || math.IsNaN(bytesPerSecond) || math.IsInf(bytesPerSecond, 0) {
		return 0, fmt.Errorf("invalid rate limit: %v", bytesPerSecond)
	}
	return int64(math.Floor(bytesPerSecond)), nil
}
