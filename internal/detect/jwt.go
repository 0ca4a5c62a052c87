package detect

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// JWTDetector inspects bearer tokens structurally — it never verifies a
// signature, only the shape and claims an attacker can forge before a
// signature check ever runs (spec §4.1 "JWT attack detector").
type JWTDetector struct {
	Base
	NoResponseDetection
	header  string
	exclude excludeSet
}

func NewJWTDetector(header string, exclude []string) *JWTDetector {
	if header == "" {
		header = "Authorization"
	}
	return &JWTDetector{
		Base:    NewBase("jwt_attack", PhaseRequest, 75, true),
		header:  header,
		exclude: newExcludeSet(exclude),
	}
}

func (d *JWTDetector) DetectRequest(_ context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	if d.exclude.excludes(d.header) {
		return nil, nil
	}

	raw := rc.Req.Header.Get(d.header)
	raw = strings.TrimPrefix(raw, "Bearer ")
	raw = strings.TrimPrefix(raw, "bearer ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, nil // not a JWT-shaped token at all; not this detector's concern
	}

	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return &waf.DetectorResult{
			Detected:     true,
			AttackType:   waf.JWTAttack,
			Severity:     waf.SeverityMedium,
			Confidence:   0.6,
			DetectorName: d.Name(),
			Evidence: waf.Evidence{
				Field:      "header." + d.header,
				Pattern:    "malformed JWT structure",
				RawContent: waf.SanitizeRaw(raw),
			},
		}, nil
	}

	alg, _ := token.Header["alg"].(string)
	switch strings.ToLower(alg) {
	case "none", "":
		return d.result("alg=none", waf.SeverityCritical, 0.95, raw), nil
	}

	if kid, ok := token.Header["kid"].(string); ok {
		low := strings.ToLower(kid)
		if strings.Contains(kid, "..") || strings.Contains(kid, "'") || strings.Contains(low, "union") || strings.Contains(kid, "|") {
			return d.result("kid injection marker", waf.SeverityHigh, 0.85, raw), nil
		}
	}

	for _, claim := range []string{"jku", "x5u"} {
		v, ok := token.Header[claim].(string)
		if !ok || v == "" {
			continue
		}
		low := strings.ToLower(v)
		if strings.HasPrefix(low, "file://") || waf.IsInternalIP(hostOf(v)) {
			return d.result(claim+" points at internal/file resource", waf.SeverityCritical, 0.92, raw), nil
		}
	}

	return nil, nil
}

func (d *JWTDetector) result(pattern string, sev waf.Severity, conf float64, raw string) *waf.DetectorResult {
	return &waf.DetectorResult{
		Detected:     true,
		AttackType:   waf.JWTAttack,
		Severity:     sev,
		Confidence:   conf,
		DetectorName: d.Name(),
		Evidence: waf.Evidence{
			Field:      "header." + d.header,
			Pattern:    pattern,
			RawContent: waf.SanitizeRaw(raw),
		},
	}
}

// hostOf extracts a bare host from a URL-ish string without pulling in the
// full net/url parser for what is just a heuristic check.
func hostOf(v string) string {
	s := v
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	return s
}
