// Package score implements the threat-score aggregators (spec §4.3) that
// turn a detector run's results into a single 0..100 ThreatScore.
package score

import (
	"math"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Aggregator reduces a set of detector results into one ThreatScore.
type Aggregator interface {
	Aggregate(results []waf.DetectorResult) waf.ThreatScore
}

// MaxScoreAggregator takes the single highest severity-weighted score among
// all detections; this is the default (spec §4.3).
type MaxScoreAggregator struct{}

func (MaxScoreAggregator) Aggregate(results []waf.DetectorResult) waf.ThreatScore {
	if len(results) == 0 {
		return waf.ThreatScore{Score: 0, Level: waf.LevelNone, Results: nil}
	}
	best := 0
	for _, r := range results {
		if s := baseScore(r); s > best {
			best = s
		}
	}
	return waf.ThreatScore{Score: best, Level: waf.ScoreLevel(best), Results: results}
}

// WeightedAggregator scores the mean, across all detections, of
// severity_to_score × confidence × a per-detector weight (default 1.0;
// weights above 1.0 let a detector like blocklist dominate the average even
// alongside lower-weight detections), per spec §4.3.
type WeightedAggregator struct {
	// Weights maps a DetectorResult.DetectorName to its multiplier. A name
	// absent from the map uses the default weight of 1.0.
	Weights map[string]float64
}

// NewWeightedAggregator builds a WeightedAggregator from a detector-name ->
// weight table loaded from policy.
func NewWeightedAggregator(weights map[string]float64) WeightedAggregator {
	return WeightedAggregator{Weights: weights}
}

func (a WeightedAggregator) weight(detectorName string) float64 {
	if w, ok := a.Weights[detectorName]; ok {
		return w
	}
	return 1.0
}

func (a WeightedAggregator) Aggregate(results []waf.DetectorResult) waf.ThreatScore {
	if len(results) == 0 {
		return waf.ThreatScore{Score: 0, Level: waf.LevelNone, Results: nil}
	}

	sum := 0.0
	for _, r := range results {
		sum += float64(waf.SeverityScore(r.Severity)) * r.Confidence * a.weight(r.DetectorName)
	}
	mean := sum / float64(len(results))

	score := int(math.Round(mean))
	switch {
	case score > 100:
		score = 100
	case score < 0:
		score = 0
	}
	return waf.ThreatScore{Score: score, Level: waf.ScoreLevel(score), Results: results}
}

// baseScore is severity_to_score × confidence, clamped to 100 — the plain
// per-result score MaxScoreAggregator maximizes over (no detector weight).
func baseScore(r waf.DetectorResult) int {
	s := float64(waf.SeverityScore(r.Severity)) * r.Confidence
	if s > 100 {
		s = 100
	}
	return int(s)
}
