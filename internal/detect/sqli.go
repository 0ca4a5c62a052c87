package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewSQLInjectionDetector scans query/body/headers for common SQL injection
// markers (spec §4.1 pattern scanners).
func NewSQLInjectionDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "sqli",
		AttackType:    waf.SQLInjection,
		Priority:      100,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			low := strings.ToLower(v)
			for _, c := range []string{"'", "\"", "--", "/*", "or ", "and ", "union", "select", "=1", "=0", ";"} {
				if strings.Contains(low, c) {
					return true
				}
			}
			return false
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)\bunion\b\s+\bselect\b`), "union select", 0.97, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bor\b\s+[\w'"]*\s*=\s*[\w'"]*\s*--`), "or-equals comment", 0.96, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)'\s*or\s*'?1'?\s*=\s*'?1`), "classic OR 1=1", 0.97, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bsleep\s*\(\s*\d+\s*\)`), "time-based sleep()", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bbenchmark\s*\(`), "benchmark()", 0.88, waf.SeverityHigh},
			{regexp.MustCompile(`(?i);\s*(drop|delete|truncate|update|insert)\b`), "stacked DML", 0.95, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)/\*.*?\*/`), "inline comment obfuscation", 0.6, waf.SeverityMedium},
			{regexp.MustCompile(`(?i)\bxp_cmdshell\b`), "mssql xp_cmdshell", 0.98, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\binformation_schema\b`), "schema enumeration", 0.85, waf.SeverityMedium},
			{regexp.MustCompile(`--\s*$`), "trailing comment terminator", 0.7, waf.SeverityMedium},
		},
	})
}
