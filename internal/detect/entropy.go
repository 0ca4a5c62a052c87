package detect

import (
	"context"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// EntropyConfig configures the obfuscated-payload detector.
type EntropyConfig struct {
	Threshold      float64  // bits/char, default 5.0
	MinLength      int      // default 16
	SignalPatterns []string // optional substrings that bump confidence when co-present
	ExcludeFields  []string
}

// EntropyDetector flags high-entropy field values as likely obfuscated or
// encoded payloads (base64 shellcode, packed scripts) that pattern scanners
// would miss (spec §4.1 "Entropy/obfuscation detector").
type EntropyDetector struct {
	Base
	NoResponseDetection
	cfg     EntropyConfig
	exclude excludeSet
}

func NewEntropyDetector(cfg EntropyConfig) *EntropyDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5.0
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 16
	}
	return &EntropyDetector{
		Base:    NewBase("entropy", PhaseRequest, 50, true),
		cfg:     cfg,
		exclude: newExcludeSet(cfg.ExcludeFields),
	}
}

func (d *EntropyDetector) DetectRequest(_ context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	fields := append(rc.QueryFields(), rc.BodyFields()...)
	for _, f := range fields {
		if d.exclude.excludes(f.Path) {
			continue
		}
		if len(f.Value) < d.cfg.MinLength {
			continue
		}
		e := waf.ShannonEntropy(f.Value)
		if e < d.cfg.Threshold {
			continue
		}

		attackType := waf.ObfuscatedPayload
		confidence := 0.5 + (e-d.cfg.Threshold)*0.1
		if confidence > 0.9 {
			confidence = 0.9
		}
		for _, sig := range d.cfg.SignalPatterns {
			if sig != "" && strings.Contains(strings.ToLower(f.Value), strings.ToLower(sig)) {
				attackType = waf.SuspiciousPattern
				confidence = 0.9
				break
			}
		}

		return &waf.DetectorResult{
			Detected:     true,
			AttackType:   attackType,
			Severity:     waf.SeverityMedium,
			Confidence:   confidence,
			DetectorName: d.Name(),
			Evidence: waf.Evidence{
				Field:      f.Path,
				Pattern:    "high-entropy value",
				Value:      waf.SanitizeValue(f.Value, false),
				RawContent: waf.SanitizeRaw(f.Value),
			},
		}, nil
	}
	return nil, nil
}
