package coverage

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// BlockKey is a global block coordinate, 0 <= X,Y < tiling.BlocksPerAxis.
type BlockKey struct {
	X, Y int32
}

func (k BlockKey) String() string { return fmt.Sprintf("%d/%d", k.X, k.Y) }

// Validate reports a *tiling.GeometryError for keys outside the map.
func (k BlockKey) Validate() error {
	return tiling.ValidateBlock(int64(k.X), int64(k.Y))
}

// TileID packs the tile that contains the block as y*MapWidth+x.
func (k BlockKey) TileID() uint32 {
	tx := uint32(k.X) >> tiling.TileWidthOffset
	ty := uint32(k.Y) >> tiling.TileWidthOffset
	return ty*tiling.MapWidth + tx
}

// FirstRow is the global pixel row of the block's top row.
func (k BlockKey) FirstRow() int64 { return int64(k.Y) * BlockWidth }

// FirstCol is the global pixel column of the block's left column.
func (k BlockKey) FirstCol() int64 { return int64(k.X) * BlockWidth }

func compareKeys(a, b BlockKey) int {
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

// PixelCoord addresses one pixel as block plus in-block column/row.
type PixelCoord struct {
	Block    BlockKey
	Col, Row int
}

// PixelAt converts global pixel coordinates.
func PixelAt(col, row int64) PixelCoord {
	return PixelCoord{
		Block: BlockKey{X: int32(col >> tiling.BlockWidthOffset), Y: int32(row >> tiling.BlockWidthOffset)},
		Col:   int(col & (BlockWidth - 1)),
		Row:   int(row & (BlockWidth - 1)),
	}
}

// GlobalRow is the pixel row on the full map; it selects the latitude band.
func (p PixelCoord) GlobalRow() int64 { return p.Block.FirstRow() + int64(p.Row) }

// GlobalCol is the pixel column on the full map.
func (p PixelCoord) GlobalCol() int64 { return p.Block.FirstCol() + int64(p.Col) }

// Source is the read-only view estimators consume. Blocks must yield every
// non-empty block exactly once, in the same order on every call.
type Source interface {
	BlockAt(k BlockKey) (*Block, bool)
	Blocks() iter.Seq2[BlockKey, *Block]
}

// Bitmap is an immutable coverage raster. Blocks live in one arena slice and
// are looked up through an index; keys are kept sorted row-major so iteration
// is deterministic. An all-zero block is never stored.
type Bitmap struct {
	arena []Block
	index map[BlockKey]int32
	keys  []BlockKey
	pop   int64
}

var _ Source = (*Bitmap)(nil)

// Empty returns a bitmap with no blocks.
func Empty() *Bitmap {
	return &Bitmap{index: map[BlockKey]int32{}}
}

// BlockAt returns the block at k, or false when the region is uncovered.
// The returned block must not be modified.
func (b *Bitmap) BlockAt(k BlockKey) (*Block, bool) {
	if b == nil {
		return nil, false
	}
	i, ok := b.index[k]
	if !ok {
		return nil, false
	}
	return &b.arena[i], true
}

// Blocks yields (key, block) in row-major key order.
func (b *Bitmap) Blocks() iter.Seq2[BlockKey, *Block] {
	return func(yield func(BlockKey, *Block) bool) {
		if b == nil {
			return
		}
		for _, k := range b.keys {
			if !yield(k, &b.arena[b.index[k]]) {
				return
			}
		}
	}
}

// IsPixelSet reports whether the pixel is visited.
func (b *Bitmap) IsPixelSet(p PixelCoord) bool {
	blk, ok := b.BlockAt(p.Block)
	if !ok {
		return false
	}
	return blk.IsSet(p.Col, p.Row)
}

// Len is the number of stored (non-empty) blocks.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Popcount is the total number of visited pixels.
func (b *Bitmap) Popcount() int64 {
	if b == nil {
		return 0
	}
	return b.pop
}

// Keys returns a copy of the sorted block keys.
func (b *Bitmap) Keys() []BlockKey {
	if b == nil {
		return nil
	}
	return slices.Clone(b.keys)
}

// Tiles returns the ids of every tile holding at least one block.
func (b *Bitmap) Tiles() *roaring.Bitmap {
	rb := roaring.New()
	if b == nil {
		return rb
	}
	for _, k := range b.keys {
		rb.Add(k.TileID())
	}
	return rb
}

// Covers reports whether every pixel of o is also set in b.
func (b *Bitmap) Covers(o *Bitmap) bool {
	for k, ob := range o.Blocks() {
		bb, ok := b.BlockAt(k)
		if !ok || !bb.Covers(ob) {
			return false
		}
	}
	return true
}

// Disjoint reports whether b and o share no set pixel.
func (b *Bitmap) Disjoint(o *Bitmap) bool {
	for k, ob := range o.Blocks() {
		if bb, ok := b.BlockAt(k); ok && bb.Intersects(ob) {
			return false
		}
	}
	return true
}

// Equal compares the set pixels of two bitmaps.
func (b *Bitmap) Equal(o *Bitmap) bool {
	return b.Len() == o.Len() && b.Popcount() == o.Popcount() && b.Covers(o)
}
