package coverage

import (
	"slices"

	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// Builder accumulates pixels and produces an immutable Bitmap.
type Builder struct {
	blocks map[BlockKey]*Block
}

func NewBuilder() *Builder {
	return &Builder{blocks: make(map[BlockKey]*Block)}
}

func (bd *Builder) block(k BlockKey) *Block {
	blk, ok := bd.blocks[k]
	if !ok {
		blk = &Block{}
		bd.blocks[k] = blk
	}
	return blk
}

// SetPixel marks the pixel at global (col,row).
func (bd *Builder) SetPixel(col, row int64) error {
	if col < 0 || col >= tiling.PixelsPerAxis {
		return &tiling.GeometryError{What: "col", Value: col, Limit: tiling.PixelsPerAxis}
	}
	if row < 0 || row >= tiling.PixelsPerAxis {
		return &tiling.GeometryError{What: "row", Value: row, Limit: tiling.PixelsPerAxis}
	}
	p := PixelAt(col, row)
	bd.block(p.Block).set(p.Col, p.Row)
	return nil
}

// Set marks one pixel given in block form.
func (bd *Builder) Set(p PixelCoord) error {
	if err := p.Block.Validate(); err != nil {
		return err
	}
	if p.Col < 0 || p.Col >= BlockWidth || p.Row < 0 || p.Row >= BlockWidth {
		return &tiling.GeometryError{What: "in-block offset", Value: int64(max(p.Col, p.Row)), Limit: BlockWidth}
	}
	bd.block(p.Block).set(p.Col, p.Row)
	return nil
}

// SetBlock ORs row words into the block at k.
func (bd *Builder) SetBlock(k BlockKey, rows [BlockWidth]uint64) error {
	if err := k.Validate(); err != nil {
		return err
	}
	blk := bd.block(k)
	for i, w := range rows {
		blk.rows[i] |= w
	}
	return nil
}

// Merge ORs every block of o into the builder.
func (bd *Builder) Merge(o *Bitmap) {
	for k, ob := range o.Blocks() {
		blk := bd.block(k)
		for i := range blk.rows {
			blk.rows[i] |= ob.rows[i]
		}
	}
}

// Build freezes the builder. Empty blocks are dropped. The builder may keep
// being used; later changes do not affect the returned bitmap.
func (bd *Builder) Build() *Bitmap {
	keys := make([]BlockKey, 0, len(bd.blocks))
	for k, blk := range bd.blocks {
		blk.recount()
		if blk.IsEmpty() {
			continue
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	out := &Bitmap{
		arena: make([]Block, len(keys)),
		index: make(map[BlockKey]int32, len(keys)),
		keys:  keys,
	}
	for i, k := range keys {
		out.arena[i] = *bd.blocks[k]
		out.index[k] = int32(i)
		out.pop += int64(out.arena[i].pop)
	}
	return out
}

// Union returns a bitmap holding the pixels of every input.
func Union(bs ...*Bitmap) *Bitmap {
	bd := NewBuilder()
	for _, b := range bs {
		bd.Merge(b)
	}
	return bd.Build()
}
