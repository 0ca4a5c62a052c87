package detect

import (
	"context"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// BlocklistDetector queries the globally-replicated blocklist (direct or
// cuckoo mode, transparently) for the request's client identity. It has the
// top request priority (100, shared with the SQL injection scanner): a hit
// already carries full confidence and must not trigger a second blocklist
// write or reputation update.
type BlocklistDetector struct {
	Base
	NoResponseDetection
	reader *blocklist.Reader
}

func NewBlocklistDetector(reader *blocklist.Reader) *BlocklistDetector {
	return &BlocklistDetector{
		Base:   NewBase("blocklist", PhaseRequest, 100, true),
		reader: reader,
	}
}

func (d *BlocklistDetector) DetectRequest(ctx context.Context, rc *RequestContext) (*waf.DetectorResult, error) {
	hit, err := d.reader.Lookup(ctx, rc.ClientID)
	if err != nil || hit == nil {
		return nil, nil
	}

	return &waf.DetectorResult{
		Detected:     true,
		AttackType:   waf.Blocklist,
		Severity:     waf.SeverityCritical,
		Confidence:   1.0,
		DetectorName: d.Name(),
		Evidence: waf.Evidence{
			Field:   "client",
			Value:   rc.ClientID,
			Pattern: hit.Reason,
		},
		Metadata: map[string]any{
			waf.MetaSkipBlocklistUpdate:  true,
			waf.MetaSkipReputationUpdate: true,
			waf.MetaKey:                  hit.Key,
		},
	}, nil
}
