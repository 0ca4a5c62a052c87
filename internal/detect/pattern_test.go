package detect_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

func newRC(t *testing.T, target string) *detect.RequestContext {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return detect.NewRequestContext(req, target, "1.2.3.4")
}

func TestSQLInjectionDetector(t *testing.T) {
	d := detect.NewSQLInjectionDetector(nil)

	t.Run("clean query produces no signal", func(t *testing.T) {
		rc := newRC(t, "/search?q=hello+world")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("classic union select fires", func(t *testing.T) {
		rc := newRC(t, "/search?q=1%20UNION%20SELECT%20username%2Cpassword%20FROM%20users")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, waf.SQLInjection, res.AttackType)
		assert.Equal(t, waf.SeverityHigh, res.Severity)
	})

	t.Run("excluded field is skipped", func(t *testing.T) {
		d := detect.NewSQLInjectionDetector([]string{"q"})
		rc := newRC(t, "/search?q=1%20UNION%20SELECT%20username%20FROM%20users")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		assert.Nil(t, res)
	})
}

func TestXSSDetector(t *testing.T) {
	d := detect.NewXSSDetector(nil)

	rc := newRC(t, "/comment?body=%3Cscript%3Ealert(1)%3C%2Fscript%3E")
	res, err := d.DetectRequest(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, waf.XSS, res.AttackType)
}

func TestPathTraversalDetector(t *testing.T) {
	d := detect.NewPathTraversalDetector(nil)

	rc := newRC(t, "/files?path=..%2F..%2F..%2Fetc%2Fpasswd")
	res, err := d.DetectRequest(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, waf.PathTraversal, res.AttackType)
}

func TestDetectorRespectsEnabled(t *testing.T) {
	d := detect.NewSQLInjectionDetector(nil)
	assert.True(t, d.Enabled())
	assert.Equal(t, detect.PhaseRequest, d.Phase())
}
