// Package areacache caches computed areas in two tiers: an in-process LRU
// in front of the shared key/value store. Areas are keyed by bitmap
// content; the only per-journey state is a local memo of each journey's
// current fingerprint, which invalidation drops.
package areacache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/fogmap-area/internal/cache"
	"github.com/mohammed-shakir/fogmap-area/internal/core/observability"
)

const (
	defaultSize = 4096
	defaultTTL  = 10 * time.Minute
)

type Config struct {
	// Size bounds the in-process tier. Zero means defaultSize.
	Size int
	// TTL applies to both tiers. Zero means defaultTTL.
	TTL time.Duration
}

// Cache is safe for concurrent use. A nil remote store turns it into a
// local-only cache.
type Cache struct {
	local  *expirable.LRU[string, float64]
	remote cache.Interface
	ttl    time.Duration
	log    *slog.Logger

	// mu orders memo writes against invalidations. epoch counts
	// invalidations.
	mu    sync.Mutex
	epoch uint64
	fps   *expirable.LRU[string, uint64]
}

func New(cfg Config, remote cache.Interface, log *slog.Logger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = defaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		local:  expirable.NewLRU[string, float64](cfg.Size, nil, cfg.TTL),
		remote: remote,
		ttl:    cfg.TTL,
		log:    log,
		fps:    expirable.NewLRU[string, uint64](cfg.Size, nil, cfg.TTL),
	}
}

// Get looks the key up locally first, then remotely. A remote hit is
// promoted into the local tier. Remote failures are logged and reported as
// a miss so a Redis outage only costs a recomputation.
func (c *Cache) Get(ctx context.Context, key string) (float64, bool) {
	if v, ok := c.local.Get(key); ok {
		observability.IncAreaCacheHit(observability.TierLocal)
		return v, true
	}
	observability.IncAreaCacheMiss(observability.TierLocal)

	if c.remote == nil {
		return 0, false
	}
	raw, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.log.Warn("area cache remote get failed", "key", key, "err", err)
		observability.IncAreaCacheMiss(observability.TierRedis)
		return 0, false
	}
	if !ok {
		observability.IncAreaCacheMiss(observability.TierRedis)
		return 0, false
	}
	v, err := decodeValue(raw)
	if err != nil {
		c.log.Warn("area cache entry dropped", "key", key, "err", err)
		observability.IncAreaCacheMiss(observability.TierRedis)
		return 0, false
	}
	observability.IncAreaCacheHit(observability.TierRedis)
	c.local.Add(key, v)
	return v, true
}

// Put stores v in both tiers. Only the remote write can fail.
func (c *Cache) Put(ctx context.Context, key string, v float64) error {
	c.local.Add(key, v)
	if c.remote == nil {
		return nil
	}
	if err := c.remote.Set(ctx, key, encodeValue(v), c.ttl); err != nil {
		return fmt.Errorf("area cache put %q: %w", key, err)
	}
	return nil
}

// Epoch is taken before reading a journey's fingerprint from the store and
// handed back to RememberJourney.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// JourneyFingerprint returns the memoised fingerprint of journey id.
func (c *Cache) JourneyFingerprint(id string) (uint64, bool) {
	return c.fps.Get(id)
}

// RememberJourney memoises fp for journey id unless an invalidation ran
// since epoch, in which case fp may already be outdated.
func (c *Cache) RememberJourney(id string, fp uint64, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.fps.Add(id, fp)
	}
}

// InvalidateJourney forgets the fingerprint of journey id. Cached areas
// stay, since they describe content rather than the journey. The error
// return satisfies the eviction contract of the change consumer.
func (c *Cache) InvalidateJourney(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.fps.Remove(id)
	return nil
}

// Len reports the size of the local area tier.
func (c *Cache) Len() int { return c.local.Len() }

func encodeValue(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}

func decodeValue(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("area value is %d bytes, want 8", len(b))
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(b))
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("area value %v out of range", v)
	}
	return v, nil
}
