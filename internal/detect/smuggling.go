package detect

import (
	"context"
	"strconv"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// SmugglingDetector looks for HTTP request-smuggling markers: conflicting
// Content-Length/Transfer-Encoding framing, header injection via CR/LF or
// NUL, and abusive X-Forwarded-For chains (spec §4.1).
type SmugglingDetector struct {
	Base
	NoResponseDetection
}

func NewSmugglingDetector() *SmugglingDetector {
	return &SmugglingDetector{Base: NewBase("http_smuggling", PhaseRequest, 70, true)}
}

func (d *SmugglingDetector) DetectRequest(_ context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	h := rc.Req.Header

	cl := h.Get("Content-Length")
	te := h.Values("Transfer-Encoding")

	if cl != "" && len(te) > 0 {
		return d.result("conflicting Content-Length and Transfer-Encoding", waf.SeverityCritical, 0.95), nil
	}

	if cl != "" {
		if _, err := strconv.ParseInt(cl, 10, 64); err != nil {
			return d.result("non-numeric Content-Length", waf.SeverityHigh, 0.85), nil
		}
	}

	if len(te) > 1 {
		return d.result("duplicate Transfer-Encoding headers", waf.SeverityHigh, 0.88), nil
	}
	for _, v := range te {
		if !strings.EqualFold(strings.TrimSpace(v), "chunked") {
			return d.result("unknown Transfer-Encoding value", waf.SeverityHigh, 0.8), nil
		}
	}

	for name, vals := range h {
		for _, v := range vals {
			if strings.ContainsAny(v, "\r\n") || strings.Contains(v, "\x00") {
				return d.resultField("header."+name, "CRLF/NUL header injection", waf.SeverityCritical, 0.93), nil
			}
		}
	}

	if host := h.Get("Host"); strings.ContainsAny(host, " \t\r\n") {
		return d.resultField("header.Host", "malformed Host header", waf.SeverityHigh, 0.85), nil
	}

	chain := waf.ForwardedForChain(rc.Req)
	if len(chain) > 10 {
		return d.resultField("header.X-Forwarded-For", "excessive forwarding chain length", waf.SeverityMedium, 0.6), nil
	}
	for _, hop := range chain {
		if waf.IsInternalIP(hop) && len(chain) > 1 {
			return d.resultField("header.X-Forwarded-For", "internal address injected into forwarding chain", waf.SeverityMedium, 0.65), nil
		}
	}

	return nil, nil
}

func (d *SmugglingDetector) result(pattern string, sev waf.Severity, conf float64) *waf.DetectorResult {
	return d.resultField("", pattern, sev, conf)
}

func (d *SmugglingDetector) resultField(field, pattern string, sev waf.Severity, conf float64) *waf.DetectorResult {
	return &waf.DetectorResult{
		Detected:     true,
		AttackType:   waf.HTTPSmuggling,
		Severity:     sev,
		Confidence:   conf,
		DetectorName: d.Name(),
		Evidence: waf.Evidence{
			Field:   field,
			Pattern: pattern,
		},
	}
}
