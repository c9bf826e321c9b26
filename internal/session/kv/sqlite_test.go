package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, ttl time.Duration) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ", time.Hour)
	assert.Error(t, err)
}

func TestSQLite_SetGetClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, time.Hour)

	_, found, err := s.Get(ctx, "session:1:auth_token")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "session:1:auth_token", "tok-1"))
	require.NoError(t, s.Set(ctx, "session:1:auth_token", "tok-2"))
	require.NoError(t, s.Set(ctx, "session:1:auth_user", `{"id":"u"}`))

	v, found, err := s.Get(ctx, "session:1:auth_token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok-2", v, "set upserts")

	require.NoError(t, s.Clear(ctx, "session:1:auth_token", "session:1:auth_user", "other"))
	_, found, err = s.Get(ctx, "session:1:auth_user")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Clear(ctx))
}

func TestSQLite_Expiry(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v"))

	now = now.Add(59 * time.Second)
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(2 * time.Second)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired entries are invisible")
}

func TestSQLite_NoTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v"))
	now = now.AddDate(10, 0, 0)

	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := OpenSQLite(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, time.Hour)
	require.NoError(t, err)
	defer s.Close()
	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}
