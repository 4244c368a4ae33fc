package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value cache with per-key TTL.
// A ttl <= 0 keeps the value until it is deleted.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
