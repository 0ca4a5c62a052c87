package handle

import (
	"context"
	"time"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// BlocklistHandler writes a globally-replicated block record for the
// request's client identity. It does nothing if every contributing
// detector result already asked to skip the write (the request IS the
// blocklist hit, re-blocking it would just churn the queue).
type BlocklistHandler struct {
	writer *blocklist.Writer
	ttl    time.Duration
}

func NewBlocklistHandler(writer *blocklist.Writer, ttl time.Duration) *BlocklistHandler {
	return &BlocklistHandler{writer: writer, ttl: ttl}
}

func (*BlocklistHandler) ActionType() string { return waf.ActionBlock }

func (h *BlocklistHandler) Handle(ctx context.Context, hc Context) error {
	if allSkipBlocklistUpdate(hc.Score.Results) {
		return nil
	}

	reason := "score " + string(hc.Score.Level) + " threshold exceeded"
	attackTypes := make([]string, 0, len(hc.Score.Results))
	for _, r := range hc.Score.Results {
		attackTypes = append(attackTypes, string(r.AttackType))
	}
	return h.writer.Block(ctx, hc.ClientID, reason, h.ttl, hc.Score.Score, attackTypes)
}

func allSkipBlocklistUpdate(results []waf.DetectorResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if !r.SkipBlocklistUpdate() {
			return false
		}
	}
	return true
}
