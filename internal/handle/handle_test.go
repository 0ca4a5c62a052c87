package handle_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/internal/handle"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// memKV/memCache/memQueue are minimal in-process fakes of the store
// interfaces, enough to exercise the handlers without Redis.
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
	m.data[key] = []byte("1")
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

func newReq(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/api/login", nil)
}

func TestLogHandler(t *testing.T) {
	h := handle.NewLogHandler()
	assert.Equal(t, waf.ActionLog, h.ActionType())
	err := h.Handle(context.Background(), handle.Context{
		Req: newReq(t), Route: "/api/login", ClientID: "1.2.3.4",
		Score: waf.ThreatScore{Score: 80, Level: waf.LevelHigh},
	})
	assert.NoError(t, err)
}

func TestNotifyHandler(t *testing.T) {
	t.Run("no URL configured is a no-op", func(t *testing.T) {
		h := handle.NewNotifyHandler(handle.NotifyConfig{})
		err := h.Handle(context.Background(), handle.Context{Req: newReq(t)})
		assert.NoError(t, err)
	})

	t.Run("delivers payload to the webhook", func(t *testing.T) {
		received := make(chan map[string]any, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			received <- body
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		h := handle.NewNotifyHandler(handle.NotifyConfig{URL: srv.URL})
		err := h.Handle(context.Background(), handle.Context{
			Req: newReq(t), Route: "/api/login", ClientID: "1.2.3.4",
			Score: waf.ThreatScore{Score: 90, Level: waf.LevelHigh, Results: []waf.DetectorResult{{AttackType: waf.SQLInjection}}},
		})
		require.NoError(t, err)

		select {
		case body := <-received:
			assert.Equal(t, "/api/login", body["route"])
			assert.Equal(t, float64(90), body["score"])
		case <-time.After(2 * time.Second):
			t.Fatal("webhook never received the notification")
		}
	})

	t.Run("retries on 5xx and eventually returns an error", func(t *testing.T) {
		var attempts int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		h := handle.NewNotifyHandler(handle.NotifyConfig{URL: srv.URL, MaxRetries: 2})
		err := h.Handle(context.Background(), handle.Context{Req: newReq(t), Route: "/x"})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts) // initial + 2 retries
	})
}

func TestReputationHandler(t *testing.T) {
	kv := newMemKV()
	h := handle.NewReputationHandler(kv, time.Hour, 0, true, nil)

	hc := handle.Context{
		Req: newReq(t), Route: "/api/login", ClientID: "1.2.3.4",
		Score: waf.ThreatScore{Results: []waf.DetectorResult{{Severity: waf.SeverityHigh, Confidence: 1.0}}},
	}

	require.NoError(t, h.Handle(context.Background(), hc))
	raw, err := kv.Get(context.Background(), "reputation:1.2.3.4")
	require.NoError(t, err)

	var entry struct {
		Score   int   `json:"score"`
		History []int `json:"history"`
	}
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, -30, entry.Score) // default HIGH severity_delta, confidence 1.0
	assert.Len(t, entry.History, 1)

	t.Run("accumulates across calls", func(t *testing.T) {
		require.NoError(t, h.Handle(context.Background(), hc))
		raw, err := kv.Get(context.Background(), "reputation:1.2.3.4")
		require.NoError(t, err)
		var entry2 struct {
			Score   int   `json:"score"`
			History []int `json:"history"`
		}
		require.NoError(t, json.Unmarshal(raw, &entry2))
		assert.Equal(t, -60, entry2.Score)
		assert.Len(t, entry2.History, 2)
	})

	t.Run("useConfidence=false ignores confidence", func(t *testing.T) {
		noConf := handle.NewReputationHandler(kv, time.Hour, 0, false, nil)
		err := noConf.Handle(context.Background(), handle.Context{
			Req: newReq(t), ClientID: "5.5.5.5",
			Score: waf.ThreatScore{Results: []waf.DetectorResult{{Severity: waf.SeverityLow, Confidence: 0.1}}},
		})
		require.NoError(t, err)
		raw, err := kv.Get(context.Background(), "reputation:5.5.5.5")
		require.NoError(t, err)
		var e struct{ Score int }
		require.NoError(t, json.Unmarshal(raw, &e))
		assert.Equal(t, -5, e.Score) // full LOW delta, confidence ignored
	})

	t.Run("summed delta floors at minDelta", func(t *testing.T) {
		floored := handle.NewReputationHandler(kv, time.Hour, -20, true, nil)
		err := floored.Handle(context.Background(), handle.Context{
			Req: newReq(t), ClientID: "6.6.6.6",
			Score: waf.ThreatScore{Results: []waf.DetectorResult{
				{Severity: waf.SeverityCritical, Confidence: 1.0},
				{Severity: waf.SeverityCritical, Confidence: 1.0},
			}},
		})
		require.NoError(t, err)
		raw, err := kv.Get(context.Background(), "reputation:6.6.6.6")
		require.NoError(t, err)
		var e struct{ Score int }
		require.NoError(t, json.Unmarshal(raw, &e))
		assert.Equal(t, -20, e.Score) // -50+-50=-100, floored to minDelta -20
	})

	t.Run("zero delta is a no-op", func(t *testing.T) {
		err := h.Handle(context.Background(), handle.Context{
			Req: newReq(t), ClientID: "nobody",
			Score: waf.ThreatScore{Results: nil},
		})
		assert.NoError(t, err)
		_, err = kv.Get(context.Background(), "reputation:nobody")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestBlocklistHandler(t *testing.T) {
	kv := newMemKV()
	cache := newMemCache()
	queue := &memQueue{}
	cfg := blocklist.DefaultConfig()
	writer := blocklist.NewWriter(cfg, kv, cache, queue)

	h := handle.NewBlocklistHandler(writer, time.Hour)
	assert.Equal(t, waf.ActionBlock, h.ActionType())

	err := h.Handle(context.Background(), handle.Context{
		Req: newReq(t), ClientID: "1.2.3.4",
		Score: waf.ThreatScore{Score: 95, Level: waf.LevelCritical, Results: []waf.DetectorResult{{AttackType: waf.SQLInjection}}},
	})
	require.NoError(t, err)

	_, err = kv.Get(context.Background(), cfg.KeyPrefix+"1.2.3.4")
	assert.NoError(t, err, "blocking should have written a KV record")
	assert.Len(t, queue.sent, 1, "cuckoo mode should have queued an add message")

	t.Run("all-skip results do not write a block", func(t *testing.T) {
		err := h.Handle(context.Background(), handle.Context{
			Req: newReq(t), ClientID: "9.9.9.9",
			Score: waf.ThreatScore{Results: []waf.DetectorResult{
				{AttackType: waf.Blocklist, Metadata: map[string]any{waf.MetaSkipBlocklistUpdate: true}},
			}},
		})
		require.NoError(t, err)
		_, err = kv.Get(context.Background(), cfg.KeyPrefix+"9.9.9.9")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
