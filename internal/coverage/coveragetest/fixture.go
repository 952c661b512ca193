// Package coveragetest provides deterministic bitmaps for tests.
package coveragetest

import (
	"math/rand/v2"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
)

// ReferenceArea is the oracle area (m²) for ReferenceTrack.
const ReferenceArea = 3035667.3046264146

// Track start near Shenzhen (lat 22.54, lng 114.05) on the zoom-22 grid.
const (
	trackCol   = 3_425_930
	trackRow   = 1_827_493
	trackSteps = 3341
	brush      = 9
)

// ReferenceTrack draws a diagonal walk with a 9×9 pixel brush. It spans 71
// blocks and 39045 pixels.
func ReferenceTrack() *coverage.Bitmap {
	bd := coverage.NewBuilder()
	for i := int64(0); i < trackSteps; i++ {
		c := int64(trackCol) + i
		r := int64(trackRow) + i/3
		for dc := int64(0); dc < brush; dc++ {
			for dr := int64(0); dr < brush; dr++ {
				if err := bd.SetPixel(c+dc, r+dr); err != nil {
					panic(err)
				}
			}
		}
	}
	return bd.Build()
}

// Scatter returns n pseudo-random pixels inside a square of side span
// anchored at (col,row). The same seed always gives the same bitmap.
func Scatter(seed uint64, n int, col, row, span int64) *coverage.Bitmap {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	bd := coverage.NewBuilder()
	for range n {
		if err := bd.SetPixel(col+rng.Int64N(span), row+rng.Int64N(span)); err != nil {
			panic(err)
		}
	}
	return bd.Build()
}

// Split partitions b into two disjoint bitmaps by pixel parity.
func Split(b *coverage.Bitmap) (even, odd *coverage.Bitmap) {
	eb, ob := coverage.NewBuilder(), coverage.NewBuilder()
	for k, blk := range b.Blocks() {
		for r := range coverage.BlockWidth {
			for c := range coverage.BlockWidth {
				if !blk.IsSet(c, r) {
					continue
				}
				p := coverage.PixelCoord{Block: k, Col: c, Row: r}
				if (c+r)%2 == 0 {
					_ = eb.Set(p)
				} else {
					_ = ob.Set(p)
				}
			}
		}
	}
	return eb.Build(), ob.Build()
}
