// Package store persists journeys in Redis: the protobuf header and the
// bitmap snapshot live under two keys written in one transaction.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/fogmap-area/internal/cache"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/keys"
	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/journey"
	"github.com/mohammed-shakir/fogmap-area/internal/snapshot"
)

// ErrNotFound is returned for an unknown journey id.
var ErrNotFound = errors.New("journey not found")

// Journey is a header together with its coverage. Fingerprint is filled
// by Get from the loaded bitmap and ignored by Put.
type Journey struct {
	Header      journey.Header
	Bitmap      *coverage.Bitmap
	Fingerprint uint64
}

// Stored describes a successful write.
type Stored struct {
	Header      journey.Header
	Fingerprint uint64
	Bytes       int
}

type JourneyStore interface {
	Put(ctx context.Context, j Journey) (Stored, error)
	Get(ctx context.Context, id string) (Journey, error)
	Header(ctx context.Context, id string) (journey.Header, error)
	// Fingerprint returns the content fingerprint of the stored bitmap
	// without loading it.
	Fingerprint(ctx context.Context, id string) (uint64, error)
	Delete(ctx context.Context, id string) error
}

type Option func(*redisJourneyStore)

// WithTTL expires stored journeys; 0 keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *redisJourneyStore) { s.ttl = d }
}

func WithCompression(c snapshot.Compression) Option {
	return func(s *redisJourneyStore) { s.comp = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *redisJourneyStore) { s.log = l }
}

type redisJourneyStore struct {
	cli  cache.Interface
	ttl  time.Duration
	comp snapshot.Compression
	log  *slog.Logger
}

func NewRedisStore(cli cache.Interface, opts ...Option) JourneyStore {
	s := &redisJourneyStore{cli: cli, comp: snapshot.CompressionZstd, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *redisJourneyStore) Put(ctx context.Context, j Journey) (Stored, error) {
	h := j.Header.Truncated()
	if err := h.Validate(); err != nil {
		return Stored{}, err
	}
	bm := j.Bitmap
	if bm == nil {
		bm = coverage.Empty()
	}

	snap, err := snapshot.Encode(bm, s.comp)
	if err != nil {
		return Stored{}, fmt.Errorf("journey %q: %w", h.ID, err)
	}
	hdr, err := journey.MarshalHeader(h)
	if err != nil {
		return Stored{}, err
	}
	fp := snapshot.Fingerprint(bm)

	kv := map[string][]byte{
		keys.JourneyHeader(h.ID):      hdr,
		keys.JourneyBitmap(h.ID):      snap,
		keys.JourneyFingerprint(h.ID): binary.BigEndian.AppendUint64(nil, fp),
	}
	if err := s.cli.MSetWithTTL(ctx, kv, s.ttl); err != nil {
		return Stored{}, fmt.Errorf("journey store put %q: %w", h.ID, err)
	}
	s.log.Debug("journey stored",
		"journey_id", h.ID,
		"revision", h.Revision,
		"blocks", bm.Len(),
		"snapshot_bytes", len(snap),
	)
	return Stored{Header: h, Fingerprint: fp, Bytes: len(hdr) + len(snap)}, nil
}

func (s *redisJourneyStore) Get(ctx context.Context, id string) (Journey, error) {
	hk, bk := keys.JourneyHeader(id), keys.JourneyBitmap(id)
	raw, err := s.cli.MGet(ctx, []string{hk, bk})
	if err != nil {
		return Journey{}, fmt.Errorf("journey store get %q: %w", id, err)
	}
	hdrRaw, okH := raw[hk]
	snapRaw, okB := raw[bk]
	if !okH || !okB {
		return Journey{}, fmt.Errorf("journey %q: %w", id, ErrNotFound)
	}

	h, err := journey.UnmarshalHeader(hdrRaw)
	if err != nil {
		return Journey{}, fmt.Errorf("journey %q header: %w", id, err)
	}
	bm, err := snapshot.Decode(snapRaw)
	if err != nil {
		return Journey{}, fmt.Errorf("journey %q bitmap: %w", id, err)
	}
	return Journey{Header: h, Bitmap: bm, Fingerprint: snapshot.Fingerprint(bm)}, nil
}

func (s *redisJourneyStore) Header(ctx context.Context, id string) (journey.Header, error) {
	raw, ok, err := s.cli.Get(ctx, keys.JourneyHeader(id))
	if err != nil {
		return journey.Header{}, fmt.Errorf("journey store header %q: %w", id, err)
	}
	if !ok {
		return journey.Header{}, fmt.Errorf("journey %q: %w", id, ErrNotFound)
	}
	h, err := journey.UnmarshalHeader(raw)
	if err != nil {
		return journey.Header{}, fmt.Errorf("journey %q header: %w", id, err)
	}
	return h, nil
}

func (s *redisJourneyStore) Fingerprint(ctx context.Context, id string) (uint64, error) {
	raw, ok, err := s.cli.Get(ctx, keys.JourneyFingerprint(id))
	if err != nil {
		return 0, fmt.Errorf("journey store fingerprint %q: %w", id, err)
	}
	if !ok {
		return 0, fmt.Errorf("journey %q: %w", id, ErrNotFound)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("journey %q fingerprint is %d bytes, want 8", id, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Delete removes the journey. Deleting an unknown id is not an error.
func (s *redisJourneyStore) Delete(ctx context.Context, id string) error {
	if err := s.cli.Del(ctx, keys.JourneyHeader(id), keys.JourneyBitmap(id), keys.JourneyFingerprint(id)); err != nil {
		return fmt.Errorf("journey store delete %q: %w", id, err)
	}
	return nil
}
