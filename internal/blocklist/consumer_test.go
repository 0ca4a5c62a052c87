package blocklist_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/internal/store"
)

// memConsumer hands back one fixed batch, then empty batches forever, so
// Consumer.Run can be exercised without a background goroutine racing a
// live Redis stream.
type memConsumer struct {
	batches [][]*store.Message
}

func (m *memConsumer) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]*store.Message, error) {
	if len(m.batches) == 0 {
		return nil, nil // mimics a real stream's empty long-poll result
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func newAddMessage(t *testing.T, key string, onAck func()) *store.Message {
	t.Helper()
	qm := blocklist.QueueMessage{Key: key, Action: blocklist.QueueActionAdd, Timestamp: 1}
	b, err := json.Marshal(qm)
	require.NoError(t, err)
	return store.NewMessage(key, b,
		func(context.Context) error { onAck(); return nil },
		func(context.Context) error { return nil },
	)
}

func TestConsumerProcessesAddMessage(t *testing.T) {
	kv := newMemKV()
	acked := false
	msg := newAddMessage(t, "7.7.7.7", func() { acked = true })

	consumer := &memConsumer{batches: [][]*store.Message{{msg}}}
	cfg := blocklist.DefaultConfig()
	c := blocklist.NewConsumer(cfg, kv, consumer)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	raw, err := kv.Get(context.Background(), blocklist.FilterSnapshotKey)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.True(t, acked)
}
