package route_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skywalker-88/sentinel/internal/route"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

func testConfig() route.Config {
	return route.Config{
		Default: []waf.ThresholdLevel{{MaxScore: 50, Actions: []string{"log"}}},
		Routes: map[string][]waf.ThresholdLevel{
			"/api/login":     {{MaxScore: 30, Actions: []string{"log"}}, {MaxScore: 60, Actions: []string{"block"}}},
			"/api/login/sso": {{MaxScore: 20, Actions: []string{"block"}}},
			"/api/assets/*":  {{MaxScore: 90, Actions: []string{"log"}}},
		},
	}
}

func TestMatcherNormalize(t *testing.T) {
	m := route.NewMatcher(testConfig())

	t.Run("exact match wins", func(t *testing.T) {
		assert.Equal(t, "/api/login", m.Normalize("/api/login"))
	})

	t.Run("longest prefix wins over shorter prefix", func(t *testing.T) {
		assert.Equal(t, "/api/login/sso", m.Normalize("/api/login/sso/callback"))
	})

	t.Run("glob match", func(t *testing.T) {
		assert.Equal(t, "/api/assets/*", m.Normalize("/api/assets/logo.png"))
	})

	t.Run("no match falls back to request path itself", func(t *testing.T) {
		assert.Equal(t, "/unrelated", m.Normalize("/unrelated"))
	})
}

func TestMatcherLevels(t *testing.T) {
	m := route.NewMatcher(testConfig())

	levels := m.Levels("/api/login")
	assert.Len(t, levels, 2)

	levels = m.Levels("/nowhere")
	assert.Equal(t, []waf.ThresholdLevel{{MaxScore: 50, Actions: []string{"log"}}}, levels)
}

func TestThresholdResolver(t *testing.T) {
	tr := route.NewThresholdResolver(testConfig())

	// /api/login has levels 30->[log], 60->[block]; a score of 45 selects
	// the 60 level and cascades through the 30 level too.
	actions := tr.Resolve("/api/login", waf.ThreatScore{Score: 45})
	assert.Equal(t, []waf.Action{{Type: "log"}, {Type: "block"}}, actions)

	// An unmatched route falls back to Default, whose single level (50)
	// doesn't cover a score of 60: no level's max_score >= score.
	actions = tr.Resolve("/nowhere", waf.ThreatScore{Score: 60})
	assert.Empty(t, actions)

	// A score within Default's level resolves to its action.
	actions = tr.Resolve("/nowhere", waf.ThreatScore{Score: 50})
	assert.Equal(t, []waf.Action{{Type: "log"}}, actions)
}
