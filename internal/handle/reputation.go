package handle

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

const (
	reputationKeyPrefix  = "reputation:"
	reputationMaxHistory = 10
	reputationDefaultTTL = 86400 * time.Second
	// reputationDefaultMinDelta floors the summed per-request delta (spec §4.5).
	reputationDefaultMinDelta = -50
)

// defaultSeverityDelta is the out-of-the-box severity -> reputation-delta
// table: worse detections cost more trust.
func defaultSeverityDelta() map[waf.Severity]int {
	return map[waf.Severity]int{
		waf.SeverityCritical: -50,
		waf.SeverityHigh:     -30,
		waf.SeverityMedium:   -15,
		waf.SeverityLow:      -5,
	}
}

// reputationEntry is one read-modify-write snapshot. There is intentionally
// no compare-and-swap: concurrent updates for the same client may race and
// one delta can be lost under load, an accepted tradeoff favoring a single
// round trip per request over contention (spec Open Question decision).
type reputationEntry struct {
	Score   int   `json:"score"`
	History []int `json:"history"`
	Updated int64 `json:"updated_at"`
}

// ReputationHandler accumulates a reputation delta per client, skipping any
// detector result that asked to be excluded (e.g. a blocklist hit, which
// would otherwise double-count against a client already blocked).
type ReputationHandler struct {
	kv            store.KV
	ttl           time.Duration
	minDelta      int
	useConfidence bool
	severityDelta map[waf.Severity]int
	clock         func() time.Time
}

// NewReputationHandler builds a ReputationHandler. minDelta floors the
// per-request summed delta (spec §4.5 default -50; 0 uses that default).
// severityDelta keys Severity names (LOW/MEDIUM/HIGH/CRITICAL) to the
// reputation delta a detection of that severity contributes; a nil/empty
// map uses defaultSeverityDelta.
func NewReputationHandler(kv store.KV, ttl time.Duration, minDelta int, useConfidence bool, severityDelta map[string]int) *ReputationHandler {
	if ttl <= 0 {
		ttl = reputationDefaultTTL
	}
	if minDelta == 0 {
		minDelta = reputationDefaultMinDelta
	}

	sd := defaultSeverityDelta()
	for name, delta := range severityDelta {
		sd[waf.Severity(strings.ToUpper(name))] = delta
	}

	return &ReputationHandler{
		kv:            kv,
		ttl:           ttl,
		minDelta:      minDelta,
		useConfidence: useConfidence,
		severityDelta: sd,
		clock:         time.Now,
	}
}

func (*ReputationHandler) ActionType() string { return waf.ActionReputation }

func (h *ReputationHandler) Handle(ctx context.Context, hc Context) error {
	delta := h.delta(hc.Score.Results)
	if delta == 0 {
		return nil
	}

	key := reputationKeyPrefix + hc.ClientID
	entry := reputationEntry{}
	if raw, err := h.kv.Get(ctx, key); err == nil {
		if jerr := json.Unmarshal(raw, &entry); jerr != nil {
			log.Warn().Err(jerr).Str("client", hc.ClientID).Msg("reputation_entry_corrupt")
			entry = reputationEntry{}
		}
	}

	entry.Score += delta
	entry.History = append(entry.History, delta)
	if len(entry.History) > reputationMaxHistory {
		entry.History = entry.History[len(entry.History)-reputationMaxHistory:]
	}
	entry.Updated = h.clock().UnixMilli()

	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.kv.Put(ctx, key, b, h.ttl)
}

// delta implements spec §4.5(d)-(e): for each non-skipped result, compute
// severity_delta × (useConfidence ? confidence : 1), sum them, and floor the
// sum at minDelta.
func (h *ReputationHandler) delta(results []waf.DetectorResult) int {
	sum := 0
	for _, r := range results {
		if r.SkipReputationUpdate() {
			continue
		}
		mult := 1.0
		if h.useConfidence {
			mult = r.Confidence
		}
		sum += int(math.Round(float64(h.severityDelta[r.Severity]) * mult))
	}
	if sum < h.minDelta {
		sum = h.minDelta
	}
	return sum
}
