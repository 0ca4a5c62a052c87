package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewXXEDetector scans XML-bearing bodies for external-entity declarations
// and DOCTYPE-based XXE markers (spec §4.1).
func NewXXEDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "xxe",
		AttackType:    waf.XXE,
		Priority:      90,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			return strings.Contains(v, "<!") || strings.Contains(v, "<?xml")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)<!doctype[^>]*\[`), "internal DTD subset", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)<!entity[^>]+system\b`), "external entity SYSTEM", 0.96, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)<!entity[^>]+public\b`), "external entity PUBLIC", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bsystem\s*["']file:`), "file:// entity target", 0.95, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\bsystem\s*["']https?:`), "remote entity target", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)php://filter`), "php filter wrapper", 0.9, waf.SeverityHigh},
		},
	})
}
