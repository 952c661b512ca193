package areacache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/fogmap-area/internal/cache/keys"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/redisstore"
)

func newCache(t *testing.T, cfg Config) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return New(cfg, rc, nil), mr
}

func TestPutGet_BothTiers(t *testing.T) {
	c, mr := newCache(t, Config{})
	ctx := context.Background()
	k := keys.BitmapArea(0xabc, "exact")

	if _, ok := c.Get(ctx, k); ok {
		t.Fatalf("unexpected hit on empty cache")
	}
	if err := c.Put(ctx, k, 3035839.7184629156); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := c.Get(ctx, k)
	if !ok || v != 3035839.7184629156 {
		t.Fatalf("Get=%v,%v", v, ok)
	}
	if !mr.Exists(k) {
		t.Fatalf("remote tier not written")
	}
	if ttl := mr.TTL(k); ttl != defaultTTL {
		t.Fatalf("remote ttl=%v", ttl)
	}
}

func TestGet_RemoteHitPromotes(t *testing.T) {
	c, _ := newCache(t, Config{})
	ctx := context.Background()
	k := keys.BitmapArea(0xfeed, "block_only")

	// a second instance shares only the remote tier
	other := New(Config{}, c.remote, nil)
	if err := other.Put(ctx, k, 12.5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("local tier should start empty")
	}
	v, ok := c.Get(ctx, k)
	if !ok || v != 12.5 {
		t.Fatalf("Get=%v,%v", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("remote hit not promoted, len=%d", c.Len())
	}
}

func TestGet_BadRemoteValueIsMiss(t *testing.T) {
	c, mr := newCache(t, Config{})
	k := keys.BitmapArea(1, "exact")
	if err := mr.Set(k, "abc"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(context.Background(), k); ok {
		t.Fatalf("short value should be a miss")
	}
}

func TestGet_RemoteDownIsMiss(t *testing.T) {
	c, mr := newCache(t, Config{})
	ctx := context.Background()
	k := keys.BitmapArea(2, "exact")
	if err := c.Put(ctx, k, 1); err != nil {
		t.Fatal(err)
	}
	mr.Close()

	if v, ok := c.Get(ctx, k); !ok || v != 1 {
		t.Fatalf("local tier should still serve, got %v,%v", v, ok)
	}
	if _, ok := c.Get(ctx, keys.BitmapArea(3, "exact")); ok {
		t.Fatalf("expected miss with remote down")
	}
	if err := c.Put(ctx, k, 2); err == nil {
		t.Fatalf("expected remote put error")
	}
}

func TestInvalidateJourney_DropsFingerprintKeepsAreas(t *testing.T) {
	c, mr := newCache(t, Config{})
	ctx := context.Background()
	area := keys.BitmapArea(0xf1, "exact")
	if err := c.Put(ctx, area, 2); err != nil {
		t.Fatal(err)
	}
	c.RememberJourney("trip", 0xf1, c.Epoch())
	c.RememberJourney("other", 0xf2, c.Epoch())

	if err := c.InvalidateJourney(ctx, "trip"); err != nil {
		t.Fatalf("InvalidateJourney: %v", err)
	}
	if _, ok := c.JourneyFingerprint("trip"); ok {
		t.Fatalf("fingerprint of trip survived invalidation")
	}
	if fp, ok := c.JourneyFingerprint("other"); !ok || fp != 0xf2 {
		t.Fatalf("unrelated journey forgotten: %x,%v", fp, ok)
	}
	if v, ok := c.Get(ctx, area); !ok || v != 2 || !mr.Exists(area) {
		t.Fatalf("content-keyed area dropped")
	}
}

func TestRememberJourney_RefusedAfterInvalidation(t *testing.T) {
	c := New(Config{}, nil, nil)
	ctx := context.Background()

	// a reader loads fingerprint 1, a writer replaces the journey and
	// invalidates, then the reader tries to memoise what it loaded
	since := c.Epoch()
	if err := c.InvalidateJourney(ctx, "trip"); err != nil {
		t.Fatal(err)
	}
	c.RememberJourney("trip", 1, since)
	if _, ok := c.JourneyFingerprint("trip"); ok {
		t.Fatalf("outdated fingerprint memoised")
	}

	c.RememberJourney("trip", 2, c.Epoch())
	if fp, ok := c.JourneyFingerprint("trip"); !ok || fp != 2 {
		t.Fatalf("fresh fingerprint not memoised: %x,%v", fp, ok)
	}
}

func TestLocalOnly(t *testing.T) {
	c := New(Config{Size: 2, TTL: time.Minute}, nil, nil)
	ctx := context.Background()
	for i, k := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, k, float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if err := c.InvalidateJourney(ctx, "x"); err != nil {
		t.Fatal(err)
	}
}
