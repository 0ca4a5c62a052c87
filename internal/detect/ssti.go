package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewSSTIDetector scans for server-side template injection markers across
// common template engines (Jinja2, Twig, FreeMarker, Velocity, Go templates).
func NewSSTIDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "ssti",
		AttackType:    waf.SSTI,
		Priority:      88,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			return strings.Contains(v, "{{") || strings.Contains(v, "${") || strings.Contains(v, "#{") || strings.Contains(v, "<%")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`\{\{\s*7\s*\*\s*7\s*\}\}`), "arithmetic probe {{7*7}}", 0.9, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)\{\{.*config.*\}\}`), "jinja2 config access", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\{\{.*__class__.*\}\}`), "python class introspection", 0.95, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\$\{.*runtime.*\}`), "freemarker/velocity runtime access", 0.95, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)#\{.*\}`), "ruby-style interpolation probe", 0.7, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)<%.*%>`), "embedded scriptlet tag", 0.75, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)\{\{.*\|\s*attr\b`), "jinja2 attr filter", 0.85, waf.SeverityHigh},
		},
	})
}
