package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewSSRFDetector scans for request parameters that look like an attempt to
// make the origin fetch an internal or unexpected resource.
func NewSSRFDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "ssrf",
		AttackType:    waf.SSRF,
		Priority:      85,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			low := strings.ToLower(v)
			return strings.Contains(low, "http://") || strings.Contains(low, "https://") ||
				strings.Contains(low, "file://") || strings.Contains(low, "gopher://") ||
				strings.Contains(low, "localhost") || strings.Contains(low, "127.0.0.1") ||
				strings.Contains(low, "169.254.")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)169\.254\.169\.254`), "cloud metadata endpoint", 0.97, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\b(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\])\b`), "loopback target", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "rfc1918 10/8 target", 0.8, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\b192\.168\.\d{1,3}\.\d{1,3}\b`), "rfc1918 192.168/16 target", 0.8, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bfile://`), "file scheme fetch", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bgopher://`), "gopher scheme fetch", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)@[^/]+\.internal\b`), "userinfo-obscured internal host", 0.75, waf.SeverityMedium},
		},
	})
}
