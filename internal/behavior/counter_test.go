package behavior_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/behavior"
	"github.com/skywalker-88/sentinel/internal/store"
)

// memKV is a minimal in-process store.KV, enough to exercise Counter
// without a Redis dependency.
type memKV struct {
	counts map[string]int64
}

func newMemKV() *memKV { return &memKV{counts: map[string]int64{}} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) { return nil, store.ErrNotFound }
func (m *memKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (m *memKV) Delete(ctx context.Context, key string) error {
	delete(m.counts, key)
	return nil
}
func (m *memKV) List(ctx context.Context, prefix string, cursor uint64, count int64) (store.ListResult, error) {
	return store.ListResult{ListComplete: true}, nil
}
func (m *memKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func TestCounterIncrAndReset(t *testing.T) {
	kv := newMemKV()
	c := behavior.NewCounter(kv, "failthresh:", time.Minute)

	n, err := c.Incr(context.Background(), "/api/login", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(context.Background(), "/api/login", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	t.Run("distinct client keeps its own count", func(t *testing.T) {
		n, err := c.Incr(context.Background(), "/api/login", "9.9.9.9")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	require.NoError(t, c.Reset(context.Background(), "/api/login", "1.2.3.4"))
	n, err = c.Incr(context.Background(), "/api/login", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "count should restart after Reset")
}
