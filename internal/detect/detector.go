package detect

import (
	"context"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Detector is the capability every built-in and pluggable check implements
// (spec §4.1). A detector returns (nil, nil) for "no signal"; it never
// returns an error for normal no-match paths, and swallows I/O errors
// internally (fail-open) rather than propagating them.
type Detector interface {
	Name() string
	Phase() Phase
	Priority() int
	Enabled() bool

	// DetectRequest runs for PhaseRequest detectors. Detectors that only
	// run on the response phase return (nil, nil) unconditionally.
	DetectRequest(ctx context.Context, rc *RequestContext) (*waf.DetectorResult, error)
	// DetectResponse runs for PhaseResponse detectors.
	DetectResponse(ctx context.Context, rc *RequestContext, resp *ResponseInfo) (*waf.DetectorResult, error)
}

// Base carries the identity fields every detector shares so concrete types
// only implement the Detect* method(s) relevant to their phase.
type Base struct {
	name     string
	phase    Phase
	priority int
	enabled  bool
}

func NewBase(name string, phase Phase, priority int, enabled bool) Base {
	return Base{name: name, phase: phase, priority: priority, enabled: enabled}
}

func (b Base) Name() string     { return b.name }
func (b Base) Phase() Phase     { return b.phase }
func (b Base) Priority() int    { return b.priority }
func (b Base) Enabled() bool    { return b.enabled }

// NoResponseDetection is embedded by request-only detectors.
type NoResponseDetection struct{}

func (NoResponseDetection) DetectResponse(context.Context, *RequestContext, *ResponseInfo) (*waf.DetectorResult, error) {
	return nil, nil
}

// NoRequestDetection is embedded by response-only detectors.
type NoRequestDetection struct{}

func (NoRequestDetection) DetectRequest(context.Context, *RequestContext) (*waf.DetectorResult, error) {
	return nil, nil
}

// excludeSet is a case-insensitive exact-match exclude list (spec §4.1: "excluding
// fields on the detector's exclude list (exact-match, case-insensitive)").
type excludeSet map[string]struct{}

func newExcludeSet(names []string) excludeSet {
	s := make(excludeSet, len(names))
	for _, n := range names {
		s[strings.ToLower(n)] = struct{}{}
	}
	return s
}

func (s excludeSet) excludes(fieldPath string) bool {
	if len(s) == 0 {
		return false
	}
	name := fieldPath
	if i := strings.LastIndexByte(fieldPath, '.'); i >= 0 {
		name = fieldPath[i+1:]
	}
	_, ok := s[strings.ToLower(name)]
	return ok
}
