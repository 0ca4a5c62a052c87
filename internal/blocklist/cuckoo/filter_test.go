package cuckoo_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/blocklist/cuckoo"
)

func TestAddContainsRemove(t *testing.T) {
	f := cuckoo.New(1000)

	assert.False(t, f.Contains("1.2.3.4"))
	require.True(t, f.Add("1.2.3.4"))
	assert.True(t, f.Contains("1.2.3.4"))
	assert.Equal(t, 1, f.Size())

	require.True(t, f.Remove("1.2.3.4"))
	assert.False(t, f.Contains("1.2.3.4"))
	assert.Equal(t, 0, f.Size())
}

func TestNoFalseNegatives(t *testing.T) {
	f := cuckoo.New(2000)
	keys := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("client-%d", i)
		if f.Add(k) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		assert.True(t, f.Contains(k), "added key must never report absent")
	}
}

func TestRoundTripBuffer(t *testing.T) {
	f := cuckoo.New(100)
	require.True(t, f.Add("a"))
	require.True(t, f.Add("b"))

	buf := f.ToBuffer()
	loaded, err := cuckoo.FromBuffer(buf)
	require.NoError(t, err)
	assert.True(t, loaded.Contains("a"))
	assert.True(t, loaded.Contains("b"))
	assert.Equal(t, f.Size(), loaded.Size())
}

func TestFromBufferRejectsGarbage(t *testing.T) {
	_, err := cuckoo.FromBuffer([]byte("not a filter"))
	assert.Error(t, err)
}

func TestEstimatedFPRIsStableAndSmall(t *testing.T) {
	f := cuckoo.New(1000)
	fpr := f.EstimatedFPR()
	assert.Greater(t, fpr, 0.0)
	assert.Less(t, fpr, 0.05)
}
