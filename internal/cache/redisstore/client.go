// Package redisstore wraps the Redis operations used by the journey store and
// the area cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/fogmap-area/internal/cache"
	"github.com/mohammed-shakir/fogmap-area/internal/core/observability"
)

// Option adjusts the connection settings before dialing.
type Option func(*redis.Options)

func WithPool(size, minIdle int) Option {
	return func(o *redis.Options) {
		o.PoolSize = size
		o.MinIdleConns = minIdle
	}
}

// WithTimeouts sets dial, read and write timeouts; zero values keep the
// defaults.
func WithTimeouts(dial, read, write time.Duration) Option {
	return func(o *redis.Options) {
		if dial > 0 {
			o.DialTimeout = dial
		}
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

type Client struct {
	rdb *redis.Client
}

var _ cache.Interface = (*Client)(nil)

// New dials addr and pings it once.
func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redisstore: empty address")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		// bitmap snapshots run to a few MB
		WriteTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, opt := range opts {
		opt(ro)
	}

	c := &Client{rdb: redis.NewClient(ro)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// timed records the latency of op; a redis.Nil miss counts as success.
func timed(op string, start time.Time, err error) {
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveRedisOp(op, err, time.Since(start).Seconds())
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	timed("ping", start, err)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the value at key; ok is false for a missing key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	timed("get", start, err)
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// MGet returns the present keys only.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	timed("mget", start, err)
	if err != nil {
		return nil, fmt.Errorf("redis mget (%d keys): %w", len(keys), err)
	}
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	timed("set", start, err)
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// MSetWithTTL writes all pairs in one MULTI/EXEC so a journey's header and
// bitmap are never seen apart.
func (c *Client) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	if len(kv) == 0 {
		return nil
	}
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			p.Set(ctx, k, v, ttl)
		}
		return nil
	})
	timed("mset", start, err)
	if err != nil {
		return fmt.Errorf("redis mset (%d keys): %w", len(kv), err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	timed("del", start, err)
	if err != nil {
		return fmt.Errorf("redis del (%d keys): %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
