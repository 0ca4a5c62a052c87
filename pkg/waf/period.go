package waf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePeriod parses durations like config TTLs commonly appear in YAML:
// plain seconds ("300"), or suffixed shorthand ("10m", "1h", "30s", "2d").
// Unlike time.ParseDuration it additionally understands "d" for days, since
// blocklist/reputation TTLs are often expressed in whole days.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day period %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
