package resolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skywalker-88/sentinel/internal/resolve"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

func levels() []waf.ThresholdLevel {
	// deliberately unsorted; New must sort ascending by MaxScore.
	return []waf.ThresholdLevel{
		{MaxScore: 90, Actions: []string{"block"}},
		{MaxScore: 40, Actions: []string{"log"}},
		{MaxScore: 70, Actions: []string{"log", "notify"}},
	}
}

func TestResolverCascades(t *testing.T) {
	r := resolve.New(levels())

	t.Run("zero score resolves to nothing", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 0})
		assert.Empty(t, actions)
	})

	t.Run("score within the lowest level selects just its actions", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 10})
		assert.Equal(t, []waf.Action{{Type: "log"}}, actions)
	})

	t.Run("score selecting the middle level cascades through the lowest", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 50})
		assert.Equal(t, []waf.Action{{Type: "log"}, {Type: "notify"}}, actions)
	})

	t.Run("score selecting the top level unions every level's actions, de-duplicated, first-seen order", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 75})
		assert.Equal(t, []waf.Action{{Type: "log"}, {Type: "notify"}, {Type: "block"}}, actions)
	})

	t.Run("score exactly at the top boundary selects the top level", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 90})
		assert.Equal(t, []waf.Action{{Type: "log"}, {Type: "notify"}, {Type: "block"}}, actions)
	})

	t.Run("score above every level's max_score resolves to nothing", func(t *testing.T) {
		actions := r.Resolve(waf.ThreatScore{Score: 100})
		assert.Empty(t, actions)
	})
}

func TestResolverEmptyLevels(t *testing.T) {
	r := resolve.New(nil)
	assert.Empty(t, r.Resolve(waf.ThreatScore{Score: 100}))
}

// TestResolverWorkedExample reproduces the cascade worked example: a score of
// 75 against levels {30:[log]}, {60:[log,notify]}, {100:[block,notify]}
// selects the 100 level and cascades through all three.
func TestResolverWorkedExample(t *testing.T) {
	r := resolve.New([]waf.ThresholdLevel{
		{MaxScore: 30, Actions: []string{"log"}},
		{MaxScore: 60, Actions: []string{"log", "notify"}},
		{MaxScore: 100, Actions: []string{"block", "notify"}},
	})

	actions := r.Resolve(waf.ThreatScore{Score: 75})
	assert.Equal(t, []waf.Action{{Type: "log"}, {Type: "notify"}, {Type: "block"}}, actions)
}
