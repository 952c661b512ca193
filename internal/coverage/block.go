// Package coverage holds the sparse visited-pixel raster: a set of fixed
// 64×64 bit blocks keyed by global block coordinate.
package coverage

import (
	"math/bits"

	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// BlockWidth is the side of a block in pixels.
const BlockWidth = tiling.BlockWidth

// Block is a dense 64×64 grid of visited pixels. Row r is one uint64 word and
// column c is bit c of that word. The population count is kept alongside the
// bits so repeated queries never rescan.
type Block struct {
	rows [BlockWidth]uint64
	pop  int
}

// NewBlock builds a block from its row words.
func NewBlock(rows [BlockWidth]uint64) Block {
	b := Block{rows: rows}
	b.recount()
	return b
}

func (b *Block) recount() {
	n := 0
	for _, w := range b.rows {
		n += bits.OnesCount64(w)
	}
	b.pop = n
}

func (b *Block) set(col, row int) {
	b.rows[row] |= 1 << uint(col)
}

// IsSet reports whether pixel (col,row) inside the block is visited.
// Coordinates outside 0..63 are never set.
func (b *Block) IsSet(col, row int) bool {
	if col < 0 || col >= BlockWidth || row < 0 || row >= BlockWidth {
		return false
	}
	return b.rows[row]&(1<<uint(col)) != 0
}

// Popcount is the number of visited pixels.
func (b *Block) Popcount() int { return b.pop }

// IsEmpty reports whether no pixel is set.
func (b *Block) IsEmpty() bool { return b.pop == 0 }

// RowWord returns the bits of one row.
func (b *Block) RowWord(row int) uint64 {
	if row < 0 || row >= BlockWidth {
		return 0
	}
	return b.rows[row]
}

// RowCount is the number of visited pixels in one row.
func (b *Block) RowCount(row int) int {
	return bits.OnesCount64(b.RowWord(row))
}

// Rows returns a copy of the row words.
func (b *Block) Rows() [BlockWidth]uint64 { return b.rows }

// Union returns the bitwise OR of two blocks.
func (b *Block) Union(o *Block) Block {
	var rows [BlockWidth]uint64
	for i := range rows {
		rows[i] = b.rows[i] | o.rows[i]
	}
	return NewBlock(rows)
}

// Covers reports whether every pixel set in o is also set in b.
func (b *Block) Covers(o *Block) bool {
	for i := range b.rows {
		if o.rows[i]&^b.rows[i] != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether the blocks share at least one set pixel.
func (b *Block) Intersects(o *Block) bool {
	for i := range b.rows {
		if o.rows[i]&b.rows[i] != 0 {
			return true
		}
	}
	return false
}
