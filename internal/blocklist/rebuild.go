package blocklist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/blocklist/cuckoo"
	"github.com/skywalker-88/sentinel/internal/store"
)

// Rebuilder scans the KV's blocklist keys and writes a fresh filter
// snapshot from scratch (spec §4.6.4), recovering from any drift the
// incremental consumer path accumulated.
type Rebuilder struct {
	cfg   Config
	kv    store.KV
	clock func() time.Time
	mu    sync.Mutex // single rebuild at a time
}

func NewRebuilder(cfg Config, kv store.KV) *Rebuilder {
	return &Rebuilder{cfg: cfg, kv: kv, clock: time.Now}
}

// Rebuild performs one pass: cursor-paginate every {prefix} key, skip
// expired entries, insert the rest, and persist. Idempotent if re-run.
func (rb *Rebuilder) Rebuild(ctx context.Context) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	filter := cuckoo.New(rb.cfg.FilterCapacity)
	var cursor uint64
	now := rb.clock().UnixMilli()
	inserted := 0

	for {
		page, err := rb.kv.List(ctx, rb.cfg.KeyPrefix, cursor, 1000)
		if err != nil {
			return err
		}
		for _, entry := range page.Keys {
			if entry.Expiration != nil && entry.Expiration.UnixMilli() < now {
				continue
			}
			raw, err := rb.kv.Get(ctx, entry.Name)
			if err != nil {
				continue
			}
			var rec BlockRecord
			if err := json.Unmarshal(raw, &rec); err == nil && rec.ExpiresAt > 0 && rec.ExpiresAt < now {
				continue
			}
			rawKey := entry.Name[len(rb.cfg.KeyPrefix):]
			if filter.Add(rawKey) {
				inserted++
			} else {
				log.Warn().Str("key", rawKey).Msg("blocklist_rebuild_capacity_exhausted")
			}
		}
		cursor = page.Cursor
		if page.ListComplete || cursor == 0 {
			break
		}
	}

	if err := rb.kv.Put(ctx, FilterSnapshotKey, filter.ToBuffer(), 0); err != nil {
		return err
	}
	version := "rebuild-" + itoa(rb.clock().UnixMilli())
	if err := rb.kv.Put(ctx, FilterVersionKey, []byte(version), 0); err != nil {
		return err
	}
	reportFilterMetrics(filter)
	log.Info().Int("inserted", inserted).Str("version", version).Msg("blocklist_rebuild_complete")
	return nil
}

// RunOnSchedule calls Rebuild every interval until ctx is cancelled.
func (rb *Rebuilder) RunOnSchedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rb.Rebuild(ctx); err != nil {
				log.Error().Err(err).Msg("blocklist_rebuild_failed")
			}
		}
	}
}
