package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewOpenRedirectDetector scans redirect-target parameters for
// protocol-relative or externally-hosted targets (spec §4.1).
func NewOpenRedirectDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "open_redirect",
		AttackType:    waf.OpenRedirect,
		Priority:      80,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			low := strings.ToLower(v)
			return strings.HasPrefix(low, "//") || strings.Contains(low, "http://") ||
				strings.Contains(low, "https://") || strings.Contains(low, "%2f%2f") ||
				strings.Contains(low, "\\\\")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`^//[^/]`), "protocol-relative redirect", 0.8, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)^https?://`), "absolute external redirect", 0.7, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)^%2f%2f`), "encoded protocol-relative redirect", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)^\\\\`), "backslash-based redirect bypass", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)@[a-z0-9.-]+\.[a-z]{2,}`), "userinfo-obscured redirect host", 0.8, waf.SeverityHigh},
		},
	})
}
