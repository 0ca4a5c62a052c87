package detect_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

func TestEntropyDetector(t *testing.T) {
	d := detect.NewEntropyDetector(detect.EntropyConfig{})

	t.Run("short low-entropy value is ignored", func(t *testing.T) {
		rc := newRC(t, "/login?user=bob")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("long high-entropy value fires", func(t *testing.T) {
		rc := newRC(t, "/x?payload=Xk9mQp2ZnL7wRt4VbGh8JcYu1FdEa6Ns")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, waf.ObfuscatedPayload, res.AttackType)
	})

	t.Run("signal pattern bumps to suspicious and max confidence", func(t *testing.T) {
		d := detect.NewEntropyDetector(detect.EntropyConfig{SignalPatterns: []string{"powershell"}})
		rc := newRC(t, "/x?payload=Xk9mPowerShellQp2ZnL7wRt4VbGh8JcYu1FdEa6Ns")
		res, err := d.DetectRequest(context.Background(), rc)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, waf.SuspiciousPattern, res.AttackType)
		assert.Equal(t, 0.9, res.Confidence)
	})
}
