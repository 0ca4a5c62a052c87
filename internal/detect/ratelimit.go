package detect

import (
	"context"

	"github.com/skywalker-88/sentinel/internal/rl"
	"github.com/skywalker-88/sentinel/pkg/config"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// RateLimitDetector wraps the token-bucket limiter as a detector so a
// throttled request flows through the same scoring/resolver/handler
// pipeline as every other attack signal instead of short-circuiting on its
// own (spec §4.1 "Rate limit detector").
type RateLimitDetector struct {
	Base
	NoResponseDetection
	limiter *rl.Limiter
	cfg     *config.Config
}

func NewRateLimitDetector(limiter *rl.Limiter, cfg *config.Config) *RateLimitDetector {
	return &RateLimitDetector{
		Base:    NewBase("rate_limit", PhaseRequest, 60, true),
		limiter: limiter,
		cfg:     cfg,
	}
}

func (d *RateLimitDetector) DetectRequest(ctx context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	route := rl.NormalizeRoute(d.cfg, rc.Route)
	if rl.IsAllowlisted(d.cfg, rc.ClientID) {
		return nil, nil
	}

	limit := rl.EffectiveLimit(d.cfg, route)
	if limit.RPS <= 0 || limit.Burst <= 0 {
		return nil, nil
	}
	cost := limit.Cost
	if cost <= 0 {
		cost = 1
	}

	key := "ratelimit:" + route + ":" + rc.ClientID
	allowed, remaining, retryAfter, _, err := d.limiter.Consume(ctx, key, limit.RPS, limit.Burst, cost)
	if err != nil {
		return nil, nil // fail-open: limiter storage errors never block traffic
	}
	if allowed {
		return nil, nil
	}

	return &waf.DetectorResult{
		Detected:     true,
		AttackType:   waf.RateLimit,
		Severity:     waf.SeverityCritical,
		Confidence:   1.0,
		DetectorName: d.Name(),
		Evidence: waf.Evidence{
			Field:   "client",
			Value:   rc.ClientID,
			Pattern: "token bucket exhausted",
		},
		Metadata: map[string]any{
			"remaining_tokens": remaining,
			"retry_after_ms":   retryAfter.Milliseconds(),
			"route":            route,
		},
	}, nil
}
