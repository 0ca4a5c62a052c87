package detect

import (
	"context"
	"regexp"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Pattern is one entry in a scanner's ordered signature table (spec §4.1).
type Pattern struct {
	Regex       *regexp.Regexp
	Description string
	Confidence  float64
	Severity    waf.Severity
}

// ScannerConfig configures a generic regex pattern scanner shared by the
// SQLi/XSS/path-traversal/SSRF/NoSQLi/command-injection/XXE/SSTI/open-redirect
// detector families (spec §4.1 "Pattern scanners").
type ScannerConfig struct {
	Name            string
	AttackType      waf.AttackType
	Priority        int
	Enabled         bool
	Patterns        []Pattern
	PreFilter       func(decoded string) bool // cheap pre-check before regex; nil = always scan
	ExcludeFields   []string
	HeaderAllowList []string
	BaseConfidence  float64 // >0 overrides the matched pattern's own confidence
	IsXSS           bool    // additional HTML-entity decode + XSS-flavored sanitizer
	ScanPath        bool    // also scan the URL path (path traversal)
}

// PatternScanner implements Detector for every regex-table-driven request
// scanner. Behavior is entirely data-driven by ScannerConfig so the nine
// concrete families in this package are each a few lines of pattern table.
type PatternScanner struct {
	Base
	NoResponseDetection
	cfg     ScannerConfig
	exclude excludeSet
}

func NewPatternScanner(cfg ScannerConfig) *PatternScanner {
	return &PatternScanner{
		Base:    NewBase(cfg.Name, PhaseRequest, cfg.Priority, cfg.Enabled),
		cfg:     cfg,
		exclude: newExcludeSet(cfg.ExcludeFields),
	}
}

func (p *PatternScanner) DetectRequest(_ context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	if p.cfg.ScanPath {
		if r := p.scanValue("path", rc.Req.URL.Path); r != nil {
			return r, nil
		}
	}

	for _, f := range rc.QueryFields() {
		if p.exclude.excludes(f.Path) {
			continue
		}
		if r := p.scanValue(f.Path, f.Value); r != nil {
			return r, nil
		}
	}

	for _, f := range rc.BodyFields() {
		if p.exclude.excludes(f.Path) {
			continue
		}
		if r := p.scanValue("body."+trimBodyPrefix(f.Path), f.Value); r != nil {
			return r, nil
		}
	}

	for _, h := range p.cfg.HeaderAllowList {
		v := rc.Req.Header.Get(h)
		if v == "" {
			continue
		}
		field := "header." + h
		if p.exclude.excludes(field) {
			continue
		}
		if r := p.scanValue(field, v); r != nil {
			return r, nil
		}
	}

	return nil, nil
}

func trimBodyPrefix(path string) string {
	// BodyFields() already returns "body.xxx" for form fields and bare
	// dotted paths for JSON fields; normalize to always prefix once.
	if len(path) >= 5 && path[:5] == "body." {
		return path[5:]
	}
	return path
}

// scanValue runs the pre-filter then the pattern table against one field
// value, short-circuiting on the first match (spec §4.1).
func (p *PatternScanner) scanValue(field, raw string) *waf.DetectorResult {
	decoded := waf.DecodeURLOnceOrTwice(raw)
	if p.cfg.IsXSS {
		decoded = waf.DecodeHTMLEntities(decoded)
	}

	if p.cfg.PreFilter != nil && !p.cfg.PreFilter(decoded) {
		return nil
	}

	for _, pat := range p.cfg.Patterns {
		if pat.Regex.MatchString(decoded) {
			confidence := pat.Confidence
			if p.cfg.BaseConfidence > 0 {
				confidence = p.cfg.BaseConfidence
			}
			return &waf.DetectorResult{
				Detected:   true,
				AttackType: p.cfg.AttackType,
				Severity:   pat.Severity,
				Confidence: confidence,
				Evidence: waf.Evidence{
					Field:      field,
					Value:      waf.SanitizeValue(decoded, p.cfg.IsXSS),
					Pattern:    pat.Description,
					RawContent: waf.SanitizeRaw(raw),
				},
			}
		}
	}
	return nil
}
