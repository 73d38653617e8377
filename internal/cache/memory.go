package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bluele/gcache"
)

// MemoryStore is an in-process LRU cache with per-entry expiry.
type MemoryStore struct {
	gc gcache.Cache
}

func NewMemoryStore(size int) *MemoryStore {
	return &MemoryStore{
		gc: gcache.New(size).LRU().Build(),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := m.gc.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.gc.SetWithExpire(key, value, ttl)
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range m.gc.Keys(false) {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			m.gc.Remove(s)
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	return m.gc.Len(true)
}
