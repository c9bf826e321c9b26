// Package kv provides the session.KV backends: in-process memory, SQLite,
// Redis and Postgres.
package kv

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps entries in process. Entries expire after ttl.
type Memory struct {
	c *cache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Memory{c: cache.New(ttl, 10*time.Minute)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.c.SetDefault(key, value)
	return nil
}

func (m *Memory) Clear(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
