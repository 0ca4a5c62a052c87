package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewPathTraversalDetector scans the URL path, query, and body for
// directory-traversal markers.
func NewPathTraversalDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "path_traversal",
		AttackType:    waf.PathTraversal,
		Priority:      85,
		Enabled:       true,
		ExcludeFields: exclude,
		ScanPath:      true,
		PreFilter: func(v string) bool {
			return strings.Contains(v, "..") || strings.Contains(v, "%2e%2e") || strings.Contains(strings.ToLower(v), "%2e")
		},
		Patterns: []Pattern{
			{regexp.MustCompile(`\.\./\.\./`), "nested dot-dot-slash", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\.\.%2f`), "mixed-encoded traversal", 0.88, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)%2e%2e%2f`), "fully-encoded traversal", 0.88, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\.\.\\`), "windows-style traversal", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)/etc/passwd`), "known sensitive file target", 0.97, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)/etc/shadow`), "known sensitive file target", 0.97, waf.SeverityCritical},
			{regexp.MustCompile(`(?i)\bc:\\windows\\`), "windows system path", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`\.\.`), "generic dot-dot", 0.5, waf.SeverityLow},
		},
	})
}
