package area

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
)

type keyedBlock struct {
	key coverage.BlockKey
	blk *coverage.Block
}

// ParallelTotalArea splits the blocks of src, in iteration order, into
// contiguous shards, sums each shard on its own goroutine and then adds the
// shard partials in shard order.
//
// The grouping of additions differs from TotalArea, so the two results are
// not bit-identical; they agree to within float rounding. For a fixed shard
// count the result is bit-identical across calls.
func (e *Estimator) ParallelTotalArea(ctx context.Context, src coverage.Source, s Strategy, shards int) (float64, error) {
	if !s.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	if shards <= 1 {
		return e.TotalArea(src, s)
	}

	var all []keyedBlock
	for k, blk := range src.Blocks() {
		all = append(all, keyedBlock{key: k, blk: blk})
	}
	if len(all) == 0 {
		return 0, nil
	}
	shards = min(shards, len(all))
	partials := make([]float64, shards)

	g, ctx := errgroup.WithContext(ctx)
	per := (len(all) + shards - 1) / shards
	for i := range shards {
		lo := i * per
		hi := min(lo+per, len(all))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			var acc accumulator
			for _, kb := range all[lo:hi] {
				if err := ctx.Err(); err != nil {
					return err
				}
				a, err := e.blockArea(kb.key, kb.blk, s)
				if err != nil {
					return err
				}
				acc.add(a)
			}
			partials[i] = acc.value()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var acc accumulator
	for _, p := range partials {
		acc.add(p)
	}
	return acc.value(), nil
}
