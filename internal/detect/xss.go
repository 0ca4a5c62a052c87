package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewXSSDetector scans for reflected/stored cross-site-scripting markers.
func NewXSSDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "xss",
		AttackType:    waf.XSS,
		Priority:      95,
		Enabled:       true,
		ExcludeFields: exclude,
		IsXSS:         true,
		PreFilter: func(v string) bool {
			return strings.ContainsAny(v, "<>") || strings.Contains(strings.ToLower(v), "javascript:") || strings.Contains(strings.ToLower(v), "onerror")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`), "script tag", 0.97, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)<img[^>]+onerror\s*=`), "img onerror handler", 0.93, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)<svg[^>]+onload\s*=`), "svg onload handler", 0.93, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)javascript:\s*[a-z]`), "javascript: URI", 0.85, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)on(error|load|click|mouseover|focus)\s*=\s*["']?[a-z]`), "inline event handler", 0.82, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)<iframe[^>]*src\s*=`), "iframe injection", 0.88, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)document\.(cookie|location)`), "DOM cookie/location access", 0.75, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)<\s*\/?\s*(script|iframe|object|embed)\b`), "suspicious tag", 0.6, waf.SeverityLow},
		},
	})
}
