// Package service implements the area operations behind the HTTP API and
// the CLI: importing archives, computing and caching areas, and managing
// stored journeys.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/areacache"
	"github.com/mohammed-shakir/fogmap-area/internal/cache/keys"
	"github.com/mohammed-shakir/fogmap-area/internal/cellsummary"
	"github.com/mohammed-shakir/fogmap-area/internal/core/observability"
	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
	"github.com/mohammed-shakir/fogmap-area/internal/invalidation"
	"github.com/mohammed-shakir/fogmap-area/internal/journey"
	"github.com/mohammed-shakir/fogmap-area/internal/logger"
	"github.com/mohammed-shakir/fogmap-area/internal/snapshot"
	"github.com/mohammed-shakir/fogmap-area/internal/store"
)

// Publisher announces journey changes to other replicas.
type Publisher interface {
	Publish(ctx context.Context, ev invalidation.JourneyEvent) error
}

type Options struct {
	Logger    *slog.Logger
	Estimator *area.Estimator
	// Cache is optional; without it every request computes.
	Cache     *areacache.Cache
	Publisher Publisher
	// DefaultStrategy applies when a caller passes none.
	DefaultStrategy area.Strategy
	// Shards > 1 switches to the parallel reduction.
	Shards         int
	CacheOpTimeout time.Duration
	Now            func() time.Time
}

type Service struct {
	log     *slog.Logger
	est     *area.Estimator
	store   store.JourneyStore
	cache   *areacache.Cache
	cells   *cellsummary.Summarizer
	pub     Publisher
	def     area.Strategy
	shards  int
	cacheTO time.Duration
	now     func() time.Time
}

func New(st store.JourneyStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Estimator == nil {
		opts.Estimator = area.New()
	}
	if opts.CacheOpTimeout <= 0 {
		opts.CacheOpTimeout = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		log:     opts.Logger,
		est:     opts.Estimator,
		store:   st,
		cache:   opts.Cache,
		cells:   cellsummary.New(opts.Estimator),
		pub:     opts.Publisher,
		def:     opts.DefaultStrategy,
		shards:  opts.Shards,
		cacheTO: opts.CacheOpTimeout,
		now:     opts.Now,
	}
}

// DefaultStrategy is the strategy used when a request names none.
func (s *Service) DefaultStrategy() area.Strategy { return s.def }

type Import struct {
	Bitmap      *coverage.Bitmap
	Warnings    []importer.Warning
	Fingerprint uint64
}

// Import decodes a sync archive. Per-entry problems come back as warnings
// and are counted by reason.
func (s *Service) Import(ctx context.Context, r io.ReaderAt, size int64) (Import, error) {
	bm, warns, err := importer.ReadSyncArchive(r, size)
	if err != nil {
		return Import{}, err
	}
	for _, w := range warns {
		observability.AddImportWarning(w.Reason)
	}
	if len(warns) > 0 {
		s.log.WarnContext(ctx, "sync archive imported with warnings",
			"warnings", len(warns), "blocks", bm.Len())
	}
	return Import{Bitmap: bm, Warnings: warns, Fingerprint: snapshot.Fingerprint(bm)}, nil
}

type AreaResult struct {
	Strategy string  `json:"strategy"`
	Area     float64 `json:"area_m2"`
	// Blocks and Pixels are zero on a journey cache hit, which skips
	// loading the bitmap.
	Blocks int   `json:"blocks,omitempty"`
	Pixels int64 `json:"pixels,omitempty"`
	Cached bool  `json:"cached"`
}

// Areas computes the area of bm under each strategy, or the default one
// when none are given. Results are cached by content fingerprint.
func (s *Service) Areas(ctx context.Context, bm *coverage.Bitmap, strategies ...area.Strategy) ([]AreaResult, error) {
	if len(strategies) == 0 {
		strategies = []area.Strategy{s.def}
	}
	fp := snapshot.Fingerprint(bm)
	out := make([]AreaResult, 0, len(strategies))
	for _, st := range strategies {
		res, err := s.cachedArea(ctx, keys.BitmapArea(fp, st.String()), bm, st)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Compare runs every strategy against bm and reports their spread.
func (s *Service) Compare(bm *coverage.Bitmap) (area.Report, error) {
	return s.est.Compare(bm)
}

// PutJourney stores or replaces a journey and drops its cached fingerprint here
// and, through the publisher, on other replicas.
func (s *Service) PutJourney(ctx context.Context, h journey.Header, bm *coverage.Bitmap) (store.Stored, error) {
	ctx = logger.WithJourney(ctx, h.ID)
	st, err := s.store.Put(ctx, store.Journey{Header: h, Bitmap: bm})
	if err != nil {
		return store.Stored{}, err
	}
	s.changed(ctx, invalidation.OpPut, st.Header)
	s.log.InfoContext(ctx, "journey stored", "revision", st.Header.Revision, "bytes", st.Bytes)
	return st, nil
}

func (s *Service) Journey(ctx context.Context, id string) (journey.Header, error) {
	return s.store.Header(ctx, id)
}

// DeleteJourney fails with store.ErrNotFound for an unknown id.
func (s *Service) DeleteJourney(ctx context.Context, id string) error {
	ctx = logger.WithJourney(ctx, id)
	h, err := s.store.Header(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, invalidation.OpDelete, h)
	s.log.InfoContext(ctx, "journey deleted")
	return nil
}

// JourneyArea returns the area of a stored journey, from cache when
// possible. Areas are cached by the content fingerprint of the bitmap, so a
// read racing a replacement can only fill the entry of the content it
// actually loaded.
func (s *Service) JourneyArea(ctx context.Context, id string, st area.Strategy) (AreaResult, error) {
	ctx = logger.WithJourney(ctx, id)
	var epoch uint64
	if s.cache != nil {
		epoch = s.cache.Epoch()
	}
	if fp, ok := s.journeyFingerprint(ctx, id, epoch); ok {
		if v, ok := s.cacheGet(ctx, keys.BitmapArea(fp, st.String())); ok {
			return AreaResult{Strategy: st.String(), Area: v, Cached: true}, nil
		}
	}
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return AreaResult{}, err
	}
	if s.cache != nil {
		s.cache.RememberJourney(id, j.Fingerprint, epoch)
	}
	return s.cachedArea(ctx, keys.BitmapArea(j.Fingerprint, st.String()), j.Bitmap, st)
}

// journeyFingerprint resolves id to its stored content fingerprint, from
// the local memo or the store. Any failure falls back to loading the
// journey.
func (s *Service) journeyFingerprint(ctx context.Context, id string, epoch uint64) (uint64, bool) {
	if s.cache == nil {
		return 0, false
	}
	if fp, ok := s.cache.JourneyFingerprint(id); ok {
		return fp, true
	}
	ctx, cancel := context.WithTimeout(ctx, s.cacheTO)
	defer cancel()
	fp, err := s.store.Fingerprint(ctx, id)
	if err != nil {
		if !IsNotFound(err) {
			s.log.WarnContext(ctx, "journey fingerprint lookup failed", "err", err)
		}
		return 0, false
	}
	s.cache.RememberJourney(id, fp, epoch)
	return fp, true
}

// JourneyCells breaks a stored journey's area down by H3 cell.
func (s *Service) JourneyCells(ctx context.Context, id string, res int, st area.Strategy) (cellsummary.Summary, error) {
	j, err := s.store.Get(logger.WithJourney(ctx, id), id)
	if err != nil {
		return cellsummary.Summary{}, err
	}
	return s.Cells(j.Bitmap, res, st)
}

func (s *Service) Cells(bm *coverage.Bitmap, res int, st area.Strategy) (cellsummary.Summary, error) {
	return s.cells.Summarize(bm, res, st)
}

func (s *Service) cachedArea(ctx context.Context, key string, bm *coverage.Bitmap, st area.Strategy) (AreaResult, error) {
	res := AreaResult{Strategy: st.String(), Blocks: bm.Len(), Pixels: bm.Popcount()}
	if v, ok := s.cacheGet(ctx, key); ok {
		res.Area, res.Cached = v, true
		return res, nil
	}
	a, err := s.compute(ctx, bm, st)
	if err != nil {
		return AreaResult{}, err
	}
	res.Area = a
	s.cachePut(ctx, key, a)
	return res, nil
}

func (s *Service) compute(ctx context.Context, bm *coverage.Bitmap, st area.Strategy) (float64, error) {
	if s.shards > 1 {
		return s.est.ParallelTotalArea(ctx, bm, st, s.shards)
	}
	return s.est.TotalArea(bm, st)
}

func (s *Service) cacheGet(ctx context.Context, key string) (float64, bool) {
	if s.cache == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cacheTO)
	defer cancel()
	return s.cache.Get(ctx, key)
}

func (s *Service) cachePut(ctx context.Context, key string, v float64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cacheTO)
	defer cancel()
	if err := s.cache.Put(ctx, key, v); err != nil {
		s.log.WarnContext(ctx, "area cache write failed", "key", key, "err", err)
	}
}

// changed runs after a successful write. Failures only delay eviction on
// other replicas until the cache TTL, so they are logged, not returned.
func (s *Service) changed(ctx context.Context, op invalidation.Op, h journey.Header) {
	if s.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, s.cacheTO)
		err := s.cache.InvalidateJourney(cctx, h.ID)
		cancel()
		if err != nil {
			s.log.WarnContext(ctx, "journey cache invalidation failed", "err", err)
		}
	}
	if s.pub == nil {
		return
	}
	ev := invalidation.NewEvent(op, h.ID, h.Revision, s.now())
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "journey event not published", "op", op, "err", err)
	}
}

// IsNotFound reports whether err means the journey does not exist.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
