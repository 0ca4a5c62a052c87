package blocklist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/blocklist/cuckoo"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/metrics"
)

// FilterSnapshotKey and FilterVersionKey are the two KV keys the cuckoo
// filter snapshot and its version string live under (spec §6).
const (
	FilterSnapshotKey = "filter_snapshot"
	FilterVersionKey  = "filter_version"
)

// Hit is the outcome of a successful blocklist lookup.
type Hit struct {
	Reason    string
	BlockedAt int64
	Score     int
	Key       string
}

// Reader implements the read side of both blocklist modes (spec §4.6.1, §4.6.2).
type Reader struct {
	cfg   Config
	kv    store.KV
	cache store.Cache

	mu             sync.RWMutex
	filter         *cuckoo.Filter
	filterLoadedAt time.Time
}

func NewReader(cfg Config, kv store.KV, cache store.Cache) *Reader {
	return &Reader{cfg: cfg, kv: kv, cache: cache}
}

// Lookup resolves rawKey against the blocklist using the configured mode.
func (r *Reader) Lookup(ctx context.Context, rawKey string) (*Hit, error) {
	var hit *Hit
	var err error
	mode := "direct"
	if r.cfg.CuckooMode {
		mode = "cuckoo"
		hit, err = r.lookupCuckoo(ctx, rawKey)
	} else {
		hit, err = r.lookupDirect(ctx, rawKey)
	}
	if err == nil && hit != nil {
		metrics.BlocklistHitsTotal.WithLabelValues(mode).Inc()
	}
	return hit, err
}

// lookupDirect is the direct-mode read (spec §4.6.1).
func (r *Reader) lookupDirect(ctx context.Context, rawKey string) (*Hit, error) {
	raw, err := r.kv.Get(ctx, r.cfg.kvKey(rawKey))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		// IO_TRANSIENT: fail open.
		log.Warn().Err(err).Str("key", rawKey).Msg("blocklist_kv_read_failed")
		return nil, nil
	}
	reason, blockedAt, ok := parseRecordOrReason(raw)
	if !ok {
		return nil, nil
	}
	return &Hit{Reason: reason, BlockedAt: blockedAt, Key: r.cfg.kvKey(rawKey)}, nil
}

// lookupCuckoo is the three-tier cuckoo-mode read (spec §4.6.2).
func (r *Reader) lookupCuckoo(ctx context.Context, rawKey string) (*Hit, error) {
	// 1) Pending cache check.
	pu := pendingURL(rawKey)
	if _, hit, err := r.cache.Match(ctx, pu); err == nil && hit {
		if r.cfg.VerifyWithKV {
			raw, kerr := r.kv.Get(ctx, r.cfg.kvKey(rawKey))
			if errors.Is(kerr, store.ErrNotFound) {
				// INVARIANT_VIOLATION: stale pending entry, delete and fall through.
				_, _ = r.cache.Delete(ctx, pu)
			} else if kerr == nil {
				reason, blockedAt, _ := parseRecordOrReason(raw)
				return &Hit{Reason: "Pending block (verified): " + reason, BlockedAt: blockedAt, Key: r.cfg.kvKey(rawKey)}, nil
			} else {
				log.Warn().Err(kerr).Str("key", rawKey).Msg("blocklist_kv_verify_failed")
			}
		} else {
			return &Hit{Reason: "Pending block (immediate)", Key: r.cfg.kvKey(rawKey)}, nil
		}
	}

	// 2) Filter load (edge cache, else KV snapshot, else direct-mode fallback).
	f, ok, err := r.loadFilter(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("blocklist_filter_load_failed")
		return r.lookupDirect(ctx, rawKey)
	}
	if !ok {
		return r.lookupDirect(ctx, rawKey)
	}

	// 3) Membership test.
	if !f.Contains(rawKey) {
		return nil, nil
	}
	if !r.cfg.VerifyWithKV {
		return &Hit{Reason: "Blocked (cuckoo filter, unverified)", Key: r.cfg.kvKey(rawKey)}, nil
	}
	raw, err := r.kv.Get(ctx, r.cfg.kvKey(rawKey))
	if errors.Is(err, store.ErrNotFound) {
		// Filter false positive (~1% FPR); KV is the source of truth.
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("key", rawKey).Msg("blocklist_kv_verify_failed")
		return nil, nil
	}
	reason, blockedAt, _ := parseRecordOrReason(raw)
	return &Hit{Reason: reason, BlockedAt: blockedAt, Key: r.cfg.kvKey(rawKey)}, nil
}

// loadFilter returns the in-memory filter, refreshing from the edge cache
// (or, on miss, the KV snapshot) if stale. ok=false means no snapshot
// exists yet and the caller should fall back to direct-mode for this request.
func (r *Reader) loadFilter(ctx context.Context) (*cuckoo.Filter, bool, error) {
	r.mu.RLock()
	f := r.filter
	fresh := f != nil && time.Since(r.filterLoadedAt) < r.cfg.FilterCacheTTL
	r.mu.RUnlock()
	if fresh {
		return f, true, nil
	}

	if raw, hit, err := r.cache.Match(ctx, filterURL); err == nil && hit {
		loaded, perr := cuckoo.FromBuffer(raw)
		if perr == nil {
			r.mu.Lock()
			r.filter = loaded
			r.filterLoadedAt = time.Now()
			r.mu.Unlock()
			reportFilterMetrics(loaded)
			return loaded, true, nil
		}
	}

	raw, err := r.kv.Get(ctx, FilterSnapshotKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	loaded, err := cuckoo.FromBuffer(raw)
	if err != nil {
		return nil, false, err
	}
	_ = r.cache.Put(ctx, filterURL, raw, r.cfg.FilterCacheTTL)
	r.mu.Lock()
	r.filter = loaded
	r.filterLoadedAt = time.Now()
	r.mu.Unlock()
	reportFilterMetrics(loaded)
	return loaded, true, nil
}

// reportFilterMetrics updates the filter_size/filter_fpr_estimate gauges
// whenever a reader, consumer, or rebuilder loads or persists a snapshot.
func reportFilterMetrics(f *cuckoo.Filter) {
	metrics.FilterSize.Set(float64(f.Size()))
	metrics.FilterFPREstimate.Set(f.EstimatedFPR())
}
