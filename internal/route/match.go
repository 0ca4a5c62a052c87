// Package route matches incoming request paths against configured routes
// and resolves their per-route threshold-level overrides, generalizing
// internal/rl/policy.go's longest-prefix matching from rate-limit policies
// to threshold levels.
package route

import (
	"path"
	"sort"
	"strings"

	"github.com/skywalker-88/sentinel/internal/resolve"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Config maps route patterns (exact paths, longest-prefix paths, or glob
// patterns understood by path.Match) to an ordered threshold-level list.
type Config struct {
	Default []waf.ThresholdLevel
	Routes  map[string][]waf.ThresholdLevel
}

// Matcher resolves a request path to its effective threshold levels.
type Matcher struct {
	cfg    Config
	globs  []string
	sorted []string
}

func NewMatcher(cfg Config) *Matcher {
	var globs, prefixes []string
	for pattern := range cfg.Routes {
		if strings.ContainsAny(pattern, "*?[") {
			globs = append(globs, pattern)
		} else {
			prefixes = append(prefixes, pattern)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return &Matcher{cfg: cfg, globs: globs, sorted: prefixes}
}

// Normalize returns the configured route key that should govern reqPath:
// an exact match, else the longest matching prefix, else the first glob
// pattern that matches, else reqPath itself (meaning "use Default").
func (m *Matcher) Normalize(reqPath string) string {
	if _, ok := m.cfg.Routes[reqPath]; ok {
		return reqPath
	}
	for _, p := range m.sorted {
		if p != "" && p[0] == '/' && strings.HasPrefix(reqPath, p) {
			return p
		}
	}
	for _, g := range m.globs {
		if ok, _ := path.Match(g, reqPath); ok {
			return g
		}
	}
	return reqPath
}

// Levels returns the effective threshold levels for reqPath.
func (m *Matcher) Levels(reqPath string) []waf.ThresholdLevel {
	key := m.Normalize(reqPath)
	if levels, ok := m.cfg.Routes[key]; ok {
		return levels
	}
	return m.cfg.Default
}

// ThresholdResolver adapts a Matcher into pipeline.Resolver, building a
// fresh resolve.Resolver for whichever levels the request's route resolves
// to (spec §4.4 cascading per-route thresholds).
type ThresholdResolver struct {
	matcher *Matcher
}

func NewThresholdResolver(cfg Config) *ThresholdResolver {
	return &ThresholdResolver{matcher: NewMatcher(cfg)}
}

func (t *ThresholdResolver) Resolve(reqPath string, ts waf.ThreatScore) []waf.Action {
	return resolve.New(t.matcher.Levels(reqPath)).Resolve(ts)
}
