package detect

import (
	"context"
	"time"

	"github.com/skywalker-88/sentinel/internal/behavior"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// FailureThresholdConfig configures a response-phase detector that escalates
// severity as a client accumulates failing responses against a route within
// a rolling window (spec §4.1 "Failure threshold / brute force detector").
type FailureThresholdConfig struct {
	Name           string
	Statuses       []int
	Threshold      int64
	Window         time.Duration
	AttackType     waf.AttackType
	BaseConfidence float64
	Priority       int
}

type FailureThresholdDetector struct {
	Base
	NoRequestDetection
	cfg     FailureThresholdConfig
	counter *behavior.Counter
	statSet map[int]struct{}
}

func NewFailureThresholdDetector(kv store.KV, cfg FailureThresholdConfig) *FailureThresholdDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.BaseConfidence <= 0 {
		cfg.BaseConfidence = 0.5
	}
	if cfg.AttackType == "" {
		cfg.AttackType = waf.BruteForce
	}
	ss := make(map[int]struct{}, len(cfg.Statuses))
	for _, s := range cfg.Statuses {
		ss[s] = struct{}{}
	}
	return &FailureThresholdDetector{
		Base:    NewBase(cfg.Name, PhaseResponse, cfg.Priority, true),
		cfg:     cfg,
		counter: behavior.NewCounter(kv, "fail:"+cfg.Name+":", cfg.Window),
		statSet: ss,
	}
}

func (d *FailureThresholdDetector) DetectResponse(ctx context.Context, rc *RequestContext, resp *ResponseInfo) (*waf.DetectorResult, error) {
	if resp == nil {
		return nil, nil
	}
	if _, ok := d.statSet[resp.StatusCode]; !ok {
		return nil, nil
	}

	count, err := d.counter.Incr(ctx, rc.Route, rc.ClientID)
	if err != nil {
		return nil, nil // fail-open: counter storage errors never block traffic
	}
	if count < d.cfg.Threshold {
		return nil, nil
	}

	severity := waf.SeverityMedium
	switch {
	case count >= d.cfg.Threshold*3:
		severity = waf.SeverityCritical
	case count >= d.cfg.Threshold*2:
		severity = waf.SeverityHigh
	}

	confidence := d.cfg.BaseConfidence + float64(count-d.cfg.Threshold)*0.1
	if confidence > 1.0 {
		confidence = 1.0
	}

	return &waf.DetectorResult{
		Detected:     true,
		AttackType:   d.cfg.AttackType,
		Severity:     severity,
		Confidence:   confidence,
		DetectorName: d.Name(),
		Evidence: waf.Evidence{
			Field:   "client",
			Value:   rc.ClientID,
			Pattern: "repeated failing responses",
		},
		Metadata: map[string]any{
			"count":     count,
			"threshold": d.cfg.Threshold,
			"route":     rc.Route,
		},
	}, nil
}

// NewBruteForceDetector is the failure-threshold detector pre-configured for
// credential-guessing: repeated 401/403 from the same client against the
// same route.
func NewBruteForceDetector(kv store.KV, threshold int64, window time.Duration) *FailureThresholdDetector {
	return NewFailureThresholdDetector(kv, FailureThresholdConfig{
		Name:           "brute_force",
		Statuses:       []int{401, 403},
		Threshold:      threshold,
		Window:         window,
		AttackType:     waf.BruteForce,
		BaseConfidence: 0.5,
		Priority:       65,
	})
}
