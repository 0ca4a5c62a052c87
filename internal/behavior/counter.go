// Package behavior implements the windowed per-{route,client} counters
// used by the failure-threshold and brute-force detectors — a thin view
// over the KV.Incr primitive. The rate-limit detector uses rl.Limiter and
// the reputation handler its own KV record instead.
package behavior

import (
	"context"
	"fmt"
	"time"

	"github.com/skywalker-88/sentinel/internal/store"
)

// Counter tracks how many times an event has occurred for a given key
// within a rolling window backed by the durable KV store.
type Counter struct {
	kv        store.KV
	keyPrefix string
	window    time.Duration
}

func NewCounter(kv store.KV, keyPrefix string, window time.Duration) *Counter {
	return &Counter{kv: kv, keyPrefix: keyPrefix, window: window}
}

// Incr bumps the counter for (route, clientID) and returns the new count.
func (c *Counter) Incr(ctx context.Context, route, clientID string) (int64, error) {
	return c.kv.Incr(ctx, c.key(route, clientID), c.window)
}

func (c *Counter) key(route, clientID string) string {
	return fmt.Sprintf("%s%s:%s", c.keyPrefix, route, clientID)
}

// Reset clears the counter, used once a brute-force/failure streak resolves
// into a block so the next window starts clean.
func (c *Counter) Reset(ctx context.Context, route, clientID string) error {
	return c.kv.Delete(ctx, c.key(route, clientID))
}
