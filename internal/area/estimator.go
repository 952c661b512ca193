// Package area reduces a coverage bitmap to the real-world surface it
// represents, in square meters.
package area

import (
	"fmt"
	"math"
	"time"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// Observer receives one call per TotalArea invocation.
type Observer interface {
	ObserveArea(strategy string, blocks int, dur time.Duration, err error)
}

type Option func(*Estimator)

func WithObserver(o Observer) Option {
	return func(e *Estimator) { e.obs = o }
}

// Estimator computes areas. It holds only a memo of per-row pixel areas, so
// one Estimator can serve concurrent callers.
type Estimator struct {
	table *tiling.AreaTable
	obs   Observer
}

func New(opts ...Option) *Estimator {
	tbl, err := tiling.NewAreaTable(tiling.Zoom)
	if err != nil {
		panic(err) // tiling.Zoom is a valid constant
	}
	e := &Estimator{table: tbl}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultEstimator = New()

// TotalArea is New().TotalArea with a shared row memo.
func TotalArea(src coverage.Source, s Strategy) (float64, error) {
	return defaultEstimator.TotalArea(src, s)
}

// TotalArea visits the blocks of src in iteration order and returns the
// summed area. The result is bit-identical across calls for the same input
// and strategy. Blocks outside the map fail with a *tiling.GeometryError.
func (e *Estimator) TotalArea(src coverage.Source, s Strategy) (float64, error) {
	start := time.Now()
	blocks := 0
	total, err := func() (float64, error) {
		if !s.valid() {
			return 0, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
		}
		var acc accumulator
		for k, blk := range src.Blocks() {
			blocks++
			a, err := e.blockArea(k, blk, s)
			if err != nil {
				return 0, err
			}
			acc.add(a)
		}
		return acc.value(), nil
	}()
	if e.obs != nil {
		e.obs.ObserveArea(s.String(), blocks, time.Since(start), err)
	}
	return total, err
}

// BlockArea returns the area of a single block under s.
func (e *Estimator) BlockArea(k coverage.BlockKey, blk *coverage.Block, s Strategy) (float64, error) {
	if !s.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return e.blockArea(k, blk, s)
}

func (e *Estimator) blockArea(k coverage.BlockKey, blk *coverage.Block, s Strategy) (float64, error) {
	if err := k.Validate(); err != nil {
		return 0, fmt.Errorf("block %s: %w", k, err)
	}
	if blk.IsEmpty() {
		return 0, nil
	}
	first := k.FirstRow()

	switch s {
	case Exact:
		return e.perRow(blk, first, e.table.Area)
	case WidthOnly:
		return e.perRow(blk, first, widthOnlyArea)
	case HeightOnly:
		return e.perRow(blk, first, heightOnlyArea)
	case BlockApprox:
		weighted := 0
		for r := range coverage.BlockWidth {
			weighted += r * blk.RowCount(r)
		}
		pop := blk.Popcount()
		centroid := int64(math.Floor(float64(weighted)/float64(pop) + 0.5))
		a, err := e.table.Area(first + centroid)
		if err != nil {
			return 0, err
		}
		return float64(pop) * a, nil
	case BlockOnly:
		a, err := e.table.Area(first + coverage.BlockWidth/2)
		if err != nil {
			return 0, err
		}
		return float64(blk.Popcount()) * a, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
}

// perRow adds count(row) × rowArea(row) over the rows of a block. Every
// pixel of a row has the same area, so this equals per-pixel summation.
func (e *Estimator) perRow(blk *coverage.Block, first int64, rowArea func(int64) (float64, error)) (float64, error) {
	var acc accumulator
	for r := range coverage.BlockWidth {
		n := blk.RowCount(r)
		if n == 0 {
			continue
		}
		a, err := rowArea(first + int64(r))
		if err != nil {
			return 0, err
		}
		acc.add(float64(n) * a)
	}
	return acc.value(), nil
}

func widthOnlyArea(row int64) (float64, error) {
	g, err := tiling.Geometry(row, tiling.Zoom)
	if err != nil {
		return 0, err
	}
	width := tiling.EarthRadius * g.DLng * math.Cos(g.Center)
	height := tiling.EarthRadius * g.DLat
	return width * height, nil
}

func heightOnlyArea(row int64) (float64, error) {
	g, err := tiling.Geometry(row, tiling.Zoom)
	if err != nil {
		return 0, err
	}
	width := haversine(g.Center, 0, g.Center, g.DLng)
	height := tiling.EarthRadius * g.DLng * math.Cos(g.Center)
	return width * height, nil
}

// haversine is the great-circle distance in meters between two points given
// in radians.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return tiling.EarthRadius * c
}
