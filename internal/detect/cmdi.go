package detect

import (
	"regexp"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NewCommandInjectionDetector scans for shell metacharacter and common
// command-injection markers (spec §4.1).
func NewCommandInjectionDetector(exclude []string) *PatternScanner {
	return NewPatternScanner(ScannerConfig{
		Name:          "command_injection",
		AttackType:    waf.CommandInjection,
		Priority:      95,
		Enabled:       true,
		ExcludeFields: exclude,
		PreFilter: func(v string) bool {
			return strings.ContainsAny(v, ";|&`$()")
		},
		Patterns: []Pattern{
			{regexp.MustCompile("(?i);\\s*(cat|ls|whoami|id|uname|wget|curl|nc|bash|sh)\\b"), "chained shell command", 0.93, waf.SeverityCritical},
			{regexp.MustCompile("\\|\\s*(cat|ls|whoami|id|nc|bash|sh)\\b"), "piped shell command", 0.9, waf.SeverityHigh},
			{regexp.MustCompile("`[^`]+`"), "backtick command substitution", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`\$\([^)]+\)`), "subshell command substitution", 0.85, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)&&\s*(cat|ls|whoami|id|rm|curl|wget)\b`), "chained && command", 0.9, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\b(/bin/(ba)?sh|/bin/sh)\b`), "direct shell invocation", 0.8, waf.SeverityHigh},
			{regexp.MustCompile(`(?i)\bnc\s+-e\b`), "netcat reverse shell", 0.95, waf.SeverityCritical},
		},
	})
}
