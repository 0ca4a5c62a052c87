package blocklist_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/internal/store"
)

type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }
func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
func (m *memKV) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}
func (m *memKV) Delete(_ context.Context, key string) error { delete(m.data, key); return nil }
func (m *memKV) List(context.Context, string, uint64, int64) (store.ListResult, error) {
	return store.ListResult{ListComplete: true}, nil
}
func (m *memKV) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	return 1, nil
}

type memCache struct{ data map[string][]byte }

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }
func (m *memCache) Match(_ context.Context, url string) ([]byte, bool, error) {
	v, ok := m.data[url]
	return v, ok, nil
}
func (m *memCache) Put(_ context.Context, url string, value []byte, _ time.Duration) error {
	m.data[url] = value
	return nil
}
func (m *memCache) Delete(_ context.Context, url string) (bool, error) {
	_, ok := m.data[url]
	delete(m.data, url)
	return ok, nil
}

type memQueue struct{ sent [][]byte }

func (m *memQueue) Send(_ context.Context, payload []byte) error {
	m.sent = append(m.sent, payload)
	return nil
}

func TestDirectModeLookup(t *testing.T) {
	cfg := blocklist.DefaultConfig()
	cfg.CuckooMode = false
	kv := newMemKV()
	reader := blocklist.NewReader(cfg, kv, nil)

	hit, err := reader.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Nil(t, hit)

	require.NoError(t, kv.Put(context.Background(), cfg.KeyPrefix+"1.2.3.4", []byte(`{"blocked":true,"reason":"manual block"}`), time.Hour))
	hit, err = reader.Lookup(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "manual block", hit.Reason)
}

func TestWriterThenDirectReaderSeesBlock(t *testing.T) {
	cfg := blocklist.DefaultConfig()
	cfg.CuckooMode = false
	kv := newMemKV()
	writer := blocklist.NewWriter(cfg, kv, nil, nil)
	reader := blocklist.NewReader(cfg, kv, nil)

	require.NoError(t, writer.Block(context.Background(), "5.6.7.8", "sql injection", time.Hour, 90, []string{"SQL_INJECTION"}))

	hit, err := reader.Lookup(context.Background(), "5.6.7.8")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "sql injection", hit.Reason)
}

func TestCuckooModeWritePendingThenRebuildPersistsFilter(t *testing.T) {
	cfg := blocklist.DefaultConfig()
	kv := newMemKV()
	cache := newMemCache()
	queue := &memQueue{}
	writer := blocklist.NewWriter(cfg, kv, cache, queue)
	reader := blocklist.NewReader(cfg, kv, cache)

	require.NoError(t, writer.Block(context.Background(), "9.9.9.9", "brute force", time.Hour, 70, []string{"BRUTE_FORCE"}))

	t.Run("pending cache makes the block visible before the consumer runs", func(t *testing.T) {
		hit, err := reader.Lookup(context.Background(), "9.9.9.9")
		require.NoError(t, err)
		require.NotNil(t, hit)
	})

	require.Len(t, queue.sent, 1)

	t.Run("rebuild writes a filter snapshot even without the queue", func(t *testing.T) {
		rb := blocklist.NewRebuilder(cfg, kv)
		require.NoError(t, rb.Rebuild(context.Background()))
		raw, err := kv.Get(context.Background(), blocklist.FilterSnapshotKey)
		require.NoError(t, err)
		assert.NotEmpty(t, raw)
	})
}

func TestUnblockRemovesDirectModeEntry(t *testing.T) {
	cfg := blocklist.DefaultConfig()
	cfg.CuckooMode = false
	kv := newMemKV()
	writer := blocklist.NewWriter(cfg, kv, nil, nil)
	reader := blocklist.NewReader(cfg, kv, nil)

	require.NoError(t, writer.Block(context.Background(), "1.1.1.1", "test", time.Hour, 50, nil))
	hit, err := reader.Lookup(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	require.NotNil(t, hit)

	require.NoError(t, writer.Unblock(context.Background(), "1.1.1.1", "resolved"))
	hit, err = reader.Lookup(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Nil(t, hit)
}
