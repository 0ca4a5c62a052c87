package blocklist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/store"
)

// Writer implements the block-action write path shared by direct and
// cuckoo mode (spec §4.6.1 write side, §4.6.2 write sequence).
type Writer struct {
	cfg   Config
	kv    store.KV
	cache store.Cache
	queue store.Queue
	clock func() time.Time
}

func NewWriter(cfg Config, kv store.KV, cache store.Cache, queue store.Queue) *Writer {
	return &Writer{cfg: cfg, kv: kv, cache: cache, queue: queue, clock: time.Now}
}

// Block records rawKey as blocked for ttl (DefaultTTL if ttl<=0), publishing
// the pending-cache / KV / queue writes in that order. Step 2 (KV) must
// succeed for step 3 (queue) to fire; if it fails the pending entry is left
// to expire on its own TTL (an accepted over-blocking bias, spec §4.6.2).
func (w *Writer) Block(ctx context.Context, rawKey, reason string, ttl time.Duration, score int, attackTypes []string) error {
	if ttl <= 0 {
		ttl = w.cfg.DefaultTTL
	}
	now := w.clock()
	rec := BlockRecord{
		Blocked:     true,
		Reason:      reason,
		BlockedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
		Score:       score,
		AttackTypes: attackTypes,
	}

	if w.cfg.CuckooMode && w.cache != nil {
		pendingTTL := ttl
		if w.cfg.PendingTTL > 0 && w.cfg.PendingTTL < pendingTTL {
			pendingTTL = w.cfg.PendingTTL
		}
		if err := w.cache.Put(ctx, pendingURL(rawKey), []byte{1}, pendingTTL); err != nil {
			log.Warn().Err(err).Str("key", rawKey).Msg("blocklist_pending_write_failed")
		}
	}

	if err := w.kv.Put(ctx, w.cfg.kvKey(rawKey), marshalRecord(rec), ttl); err != nil {
		log.Error().Err(err).Str("key", rawKey).Msg("blocklist_kv_write_failed")
		return err
	}

	if w.cfg.CuckooMode && w.queue != nil {
		msg := QueueMessage{
			Key:         rawKey,
			Action:      QueueActionAdd,
			Reason:      reason,
			Timestamp:   now.UnixMilli(),
			ExpiresAt:   rec.ExpiresAt,
			Score:       score,
			AttackTypes: attackTypes,
		}
		b, _ := json.Marshal(msg)
		if err := w.queue.Send(ctx, b); err != nil {
			log.Error().Err(err).Str("key", rawKey).Msg("blocklist_queue_publish_failed")
		}
	}
	return nil
}

// Unblock removes rawKey: deletes the KV record and, in cuckoo mode,
// publishes a remove message so the consumer evicts it from the filter.
func (w *Writer) Unblock(ctx context.Context, rawKey, reason string) error {
	if err := w.kv.Delete(ctx, w.cfg.kvKey(rawKey)); err != nil {
		log.Error().Err(err).Str("key", rawKey).Msg("blocklist_kv_delete_failed")
		return err
	}
	if w.cfg.CuckooMode && w.cache != nil {
		_, _ = w.cache.Delete(ctx, pendingURL(rawKey))
	}
	if w.cfg.CuckooMode && w.queue != nil {
		msg := QueueMessage{Key: rawKey, Action: QueueActionRemove, Reason: reason, Timestamp: w.clock().UnixMilli()}
		b, _ := json.Marshal(msg)
		if err := w.queue.Send(ctx, b); err != nil {
			log.Error().Err(err).Str("key", rawKey).Msg("blocklist_queue_publish_failed")
		}
	}
	return nil
}
