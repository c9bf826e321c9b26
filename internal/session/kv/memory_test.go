package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	_, found, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "a", "1"))
	require.NoError(t, m.Set(ctx, "b", "2"))
	require.NoError(t, m.Set(ctx, "a", "3"))

	v, found, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", v)

	require.NoError(t, m.Clear(ctx, "a", "b", "never-set"))
	_, found, _ = m.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = m.Get(ctx, "b")
	assert.False(t, found)
	assert.NoError(t, m.Close())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(20 * time.Millisecond)
	require.NoError(t, m.Set(ctx, "k", "v"))

	assert.Eventually(t, func() bool {
		_, found, _ := m.Get(ctx, "k")
		return !found
	}, time.Second, 10*time.Millisecond)
}
