package score_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skywalker-88/sentinel/internal/score"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

func TestMaxScoreAggregator(t *testing.T) {
	agg := score.MaxScoreAggregator{}

	t.Run("empty", func(t *testing.T) {
		ts := agg.Aggregate(nil)
		assert.Equal(t, 0, ts.Score)
		assert.Equal(t, waf.LevelNone, ts.Level)
	})

	t.Run("takes the highest weighted result, not the sum", func(t *testing.T) {
		results := []waf.DetectorResult{
			{Severity: waf.SeverityLow, Confidence: 1.0},
			{Severity: waf.SeverityCritical, Confidence: 1.0},
			{Severity: waf.SeverityMedium, Confidence: 1.0},
		}
		ts := agg.Aggregate(results)
		want := waf.SeverityScore(waf.SeverityCritical)
		assert.Equal(t, want, ts.Score)
		assert.Len(t, ts.Results, 3)
	})

	t.Run("confidence scales severity down", func(t *testing.T) {
		results := []waf.DetectorResult{
			{Severity: waf.SeverityCritical, Confidence: 0.1},
		}
		ts := agg.Aggregate(results)
		assert.Less(t, ts.Score, waf.SeverityScore(waf.SeverityCritical))
	})
}

func TestWeightedAggregator(t *testing.T) {
	agg := score.WeightedAggregator{}

	t.Run("empty", func(t *testing.T) {
		ts := agg.Aggregate(nil)
		assert.Equal(t, 0, ts.Score)
	})

	t.Run("averages rather than sums", func(t *testing.T) {
		results := []waf.DetectorResult{
			{Severity: waf.SeverityCritical, Confidence: 1.0}, // 100
			{Severity: waf.SeverityLow, Confidence: 1.0},      // 25
		}
		ts := agg.Aggregate(results)
		assert.Equal(t, 63, ts.Score) // round(mean(100, 25)) = round(62.5) = 63
	})

	t.Run("uniform critical hits average to 100, not a sum clamped to 100", func(t *testing.T) {
		results := []waf.DetectorResult{
			{Severity: waf.SeverityCritical, Confidence: 1.0},
			{Severity: waf.SeverityCritical, Confidence: 1.0},
			{Severity: waf.SeverityCritical, Confidence: 1.0},
		}
		ts := agg.Aggregate(results)
		assert.Equal(t, 100, ts.Score)
	})

	t.Run("a detector's weight multiplies its contribution to the mean", func(t *testing.T) {
		weighted := score.NewWeightedAggregator(map[string]float64{"blocklist": 2.0})
		results := []waf.DetectorResult{
			{DetectorName: "blocklist", Severity: waf.SeverityHigh, Confidence: 1.0}, // 80*2.0=160
			{DetectorName: "sqli", Severity: waf.SeverityLow, Confidence: 1.0},       // 25*1.0=25
		}
		ts := weighted.Aggregate(results)
		assert.Equal(t, 93, ts.Score) // round(mean(160, 25)) = round(92.5) = 93

		unweighted := (score.WeightedAggregator{}).Aggregate(results)
		assert.Less(t, unweighted.Score, ts.Score)
	})
}
