// Package cache wraps a source.Source with a time-to-live cache so repeated
// renders of the same selection do not hit the backend every time.
package cache

import (
	"context"
	"time"
)

// Store is a byte cache with per-entry expiry. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}
