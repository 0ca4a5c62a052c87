package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewNoSQLInjectionDetector scans for MongoDB/NoSQL operator injection
// markers (spec §4.1).
func NewNoSQLInjectionDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "nosqli",
		AttackType:    waf.NoSQLInjection,
		Priority:      92,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			return strings.Contains(v, "$")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)\$where\b`), "$where operator", 0.95, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\$ne\b\s*:`), "$ne operator", 0.8, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\$gt\b\s*:`), "$gt operator", 0.75, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)\$regex\b\s*:`), "$regex operator", 0.82, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\$or\b\s*:\s*\[`), "$or operator array", 0.8, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\$(exists|in|nin|not)\b\s*:`), "boolean/membership operator", 0.7, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)this\.\w+\s*==`), "javascript this. comparison", 0.85, waf.SeverityHigh},
		},
	})
}
