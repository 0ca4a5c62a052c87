package detect_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

type memKV struct{ counts map[string]int64 }

func newMemKV() *memKV { return &memKV{counts: map[string]int64{}} }

func (m *memKV) Get(context.Context, string) ([]byte, error) { return nil, store.ErrNotFound }
func (m *memKV) Put(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (m *memKV) Delete(ctx context.Context, key string) error {
	delete(m.counts, key)
	return nil
}
func (m *memKV) List(context.Context, string, uint64, int64) (store.ListResult, error) {
	return store.ListResult{ListComplete: true}, nil
}
func (m *memKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func TestFailureThresholdDetector(t *testing.T) {
	kv := newMemKV()
	d := detect.NewBruteForceDetector(kv, 3, time.Minute)
	rc := detect.NewRequestContext(httptestRequest(), "/api/login", "1.2.3.4")

	t.Run("non-matching status is ignored", func(t *testing.T) {
		res, err := d.DetectResponse(context.Background(), rc, &detect.ResponseInfo{StatusCode: http.StatusOK})
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("below threshold produces no signal", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			res, err := d.DetectResponse(context.Background(), rc, &detect.ResponseInfo{StatusCode: http.StatusUnauthorized})
			require.NoError(t, err)
			assert.Nil(t, res)
		}
	})

	t.Run("crossing threshold fires brute force", func(t *testing.T) {
		res, err := d.DetectResponse(context.Background(), rc, &detect.ResponseInfo{StatusCode: http.StatusUnauthorized})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, waf.BruteForce, res.AttackType)
	})

	t.Run("severity escalates with repeated failures", func(t *testing.T) {
		var last *waf.DetectorResult
		for i := 0; i < 6; i++ {
			res, err := d.DetectResponse(context.Background(), rc, &detect.ResponseInfo{StatusCode: http.StatusUnauthorized})
			require.NoError(t, err)
			if res != nil {
				last = res
			}
		}
		require.NotNil(t, last)
		assert.Equal(t, waf.SeverityCritical, last.Severity)
	})
}

func httptestRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodPost, "/api/login", nil)
	return req
}
