// Package resolve implements the cascading threshold resolver (spec §4.4):
// a ThreatScore maps to an ordered set of actions by walking threshold
// levels from lowest MaxScore up, each level inheriting every lower level's
// actions.
package resolve

import (
	"sort"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Resolver turns a ThreatScore into the ordered action list for a Decision.
type Resolver struct {
	levels []waf.ThresholdLevel
}

// New builds a Resolver from an unordered level list, sorting by ascending
// MaxScore once up front.
func New(levels []waf.ThresholdLevel) *Resolver {
	sorted := make([]waf.ThresholdLevel, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxScore < sorted[j].MaxScore })
	return &Resolver{levels: sorted}
}

// Resolve selects the first ascending level whose MaxScore >= score and
// returns that level's cascaded action set: the union, in first-seen order,
// of every level's actions from index 0 through the selected level. A score
// of zero, or a score higher than every level's MaxScore, resolves to no
// actions.
func (r *Resolver) Resolve(ts waf.ThreatScore) []waf.Action {
	if ts.Score <= 0 {
		return nil
	}

	selected := -1
	for i, lvl := range r.levels {
		if ts.Score <= lvl.MaxScore {
			selected = i
			break
		}
	}
	if selected == -1 {
		return nil
	}

	var actions []waf.Action
	seen := make(map[string]struct{})
	for _, lvl := range r.levels[:selected+1] {
		for _, name := range lvl.Actions {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			actions = append(actions, waf.Action{Type: name})
		}
	}
	return actions
}
