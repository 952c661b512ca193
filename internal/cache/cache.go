// Package cache declares the key/value contract shared by the journey store
// and the area cache. redisstore.Client implements it.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
