package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/blocklist/cuckoo"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/metrics"
)

// lagReporter is implemented by store.Consumer backends that can report
// their pending-entries count (e.g. RedisStreamQueue.Lag); the consumer
// degrades to leaving queue_lag unset when the backend doesn't support it.
type lagReporter interface {
	Lag(ctx context.Context) (int64, error)
}

// Consumer drains BlockQueueMessages in batches and mutates the shared
// Cuckoo filter snapshot (spec §4.6.3). Only the consumer ever writes the
// snapshot; every reader only deserializes.
type Consumer struct {
	cfg      Config
	kv       store.KV
	consumer store.Consumer
	clock    func() time.Time
}

func NewConsumer(cfg Config, kv store.KV, consumer store.Consumer) *Consumer {
	return &Consumer{cfg: cfg, kv: kv, consumer: consumer, clock: time.Now}
}

// Run blocks, repeatedly draining batches, until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("blocklist_consumer_batch_failed")
			time.Sleep(time.Second)
		}
		if lr, ok := c.consumer.(lagReporter); ok {
			if lag, err := lr.Lag(ctx); err == nil {
				metrics.QueueLag.Set(float64(lag))
			}
		}
	}
}

func (c *Consumer) processBatch(ctx context.Context) error {
	msgs, err := c.consumer.ReadBatch(ctx, 100, 5*time.Second)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	filter, err := c.loadOrCreateFilter(ctx)
	if err != nil {
		return err
	}

	dirty := false
	processed := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		var qm QueueMessage
		if err := json.Unmarshal(m.Payload, &qm); err != nil {
			log.Warn().Err(err).Msg("blocklist_consumer_bad_message")
			_ = m.Ack(ctx)
			continue
		}

		switch qm.Action {
		case QueueActionAdd:
			if !filter.Contains(qm.Key) {
				if filter.Add(qm.Key) {
					dirty = true
				} else {
					log.Warn().Str("key", qm.Key).Msg("blocklist_filter_capacity_exhausted")
				}
			}
		case QueueActionRemove:
			if filter.Remove(qm.Key) {
				dirty = true
			}
			if err := c.kv.Delete(ctx, c.cfg.kvKey(qm.Key)); err != nil {
				log.Warn().Err(err).Str("key", qm.Key).Msg("blocklist_consumer_kv_delete_failed")
			}
		}
		processed = append(processed, m)
	}

	if dirty {
		if err := c.persist(ctx, filter); err != nil {
			for _, m := range processed {
				_ = m.Retry(ctx)
			}
			return err
		}
	}
	for _, m := range processed {
		if err := m.Ack(ctx); err != nil {
			log.Warn().Err(err).Msg("blocklist_consumer_ack_failed")
			_ = m.Retry(ctx)
		}
	}
	reportFilterMetrics(filter)
	return nil
}

func (c *Consumer) loadOrCreateFilter(ctx context.Context) (*cuckoo.Filter, error) {
	raw, err := c.kv.Get(ctx, FilterSnapshotKey)
	if errors.Is(err, store.ErrNotFound) {
		return cuckoo.New(c.cfg.FilterCapacity), nil
	}
	if err != nil {
		return nil, err
	}
	f, err := cuckoo.FromBuffer(raw)
	if err != nil {
		log.Warn().Err(err).Msg("blocklist_consumer_corrupt_snapshot_recreating")
		return cuckoo.New(c.cfg.FilterCapacity), nil
	}
	return f, nil
}

// persist writes the snapshot and a fresh version together, preserving the
// "snapshot >= version" invariant: both puts complete before the batch is
// acknowledged as durable (spec §3 invariants, §4.6.3 step 3).
func (c *Consumer) persist(ctx context.Context, f *cuckoo.Filter) error {
	buf := f.ToBuffer()
	if err := c.kv.Put(ctx, FilterSnapshotKey, buf, 0); err != nil {
		return err
	}
	version := []byte(itoa(c.clock().UnixMilli()))
	if err := c.kv.Put(ctx, FilterVersionKey, version, 0); err != nil {
		return err
	}
	return nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
