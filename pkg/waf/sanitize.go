package waf

import (
	"regexp"
	"strings"
)

const evidenceMaxLen = 100
const rawContentMaxLen = 200

var sanitizePatterns = []struct {
	re      *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`(?i)/etc/shadow`), "/etc/***"},
	{regexp.MustCompile(`(?i)/root/[^\s"'&]*`), "/root/***"},
	{regexp.MustCompile(`(?i)password=[^&\s"']*`), "password=***"},
	{regexp.MustCompile(`(?i)token=[^&\s"']*`), "token=***"},
	{regexp.MustCompile(`(?i)api_key=[^&\s"']*`), "api_key=***"},
}

var scriptBodyRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

// Truncate shortens s to n runes, appending an ellipsis marker when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// SanitizeValue masks known-sensitive substrings and truncates to the
// evidence value length limit. isXSS additionally collapses script bodies.
func SanitizeValue(value string, isXSS bool) string {
	out := value
	if isXSS {
		out = scriptBodyRe.ReplaceAllString(out, "<script>***</script>")
	}
	for _, p := range sanitizePatterns {
		out = p.re.ReplaceAllString(out, p.replace)
	}
	return Truncate(out, evidenceMaxLen)
}

// SanitizeRaw is like SanitizeValue but caps at the raw_content length.
func SanitizeRaw(value string) string {
	out := value
	for _, p := range sanitizePatterns {
		out = p.re.ReplaceAllString(out, p.replace)
	}
	return Truncate(out, rawContentMaxLen)
}

// DecodeURLOnceOrTwice URL-decodes a value once, and again if the result
// still contains a literal '%' (double-encoding evasion).
func DecodeURLOnceOrTwice(v string) string {
	once := urlDecode(v)
	if strings.Contains(once, "%") {
		if twice := urlDecode(once); twice != once {
			return twice
		}
	}
	return once
}

func urlDecode(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '%' && i+2 < len(v) {
			if hi, ok := hexVal(v[i+1]); ok {
				if lo, ok2 := hexVal(v[i+2]); ok2 {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
			b.WriteByte(c)
			continue
		}
		if c == '+' {
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

var htmlEntities = map[string]string{
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&#39;":  "'",
	"&apos;": "'",
	"&amp;":  "&",
}

// DecodeHTMLEntities does a single pass of common named-entity decoding,
// used only by the XSS scanner (spec §4.1).
func DecodeHTMLEntities(v string) string {
	out := v
	for ent, lit := range htmlEntities {
		out = strings.ReplaceAll(out, ent, lit)
	}
	return out
}
