// Package importer reads and writes sync archives: zip files whose Sync/
// entries each carry one zlib-compressed tile of coverage blocks.
package importer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// Tile payload layout.
const (
	SyncDir = "Sync/"

	indexEntries = tiling.TileWidth * tiling.TileWidth
	indexBytes   = indexEntries * 2
	bitmapBytes  = coverage.BlockWidth * coverage.BlockWidth / 8
	recordBytes  = bitmapBytes + 3
	maxPayload   = indexBytes + indexEntries*recordBytes
)

// Warning reasons.
const (
	ReasonBadName    = "bad_name"
	ReasonTileRange  = "tile_out_of_range"
	ReasonDuplicate  = "duplicate_tile"
	ReasonInflate    = "inflate_failed"
	ReasonTruncated  = "truncated"
	ReasonOversized  = "oversized"
	ReasonIndexRange = "index_out_of_range"
	ReasonEmptyBlock = "empty_block"
)

// Warning reports a tile entry, or a block inside one, that was skipped.
type Warning struct {
	Entry  string `json:"entry"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (w Warning) String() string {
	if w.Detail == "" {
		return w.Entry + ": " + w.Reason
	}
	return w.Entry + ": " + w.Reason + " (" + w.Detail + ")"
}

// ArchiveError is fatal: nothing could be imported.
type ArchiveError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArchiveError) Error() string {
	msg := "sync archive"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// LoadSyncArchive imports the archive at path.
func LoadSyncArchive(path string) (*coverage.Bitmap, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ArchiveError{Path: path, Reason: "cannot open", Err: err}
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, &ArchiveError{Path: path, Reason: "cannot stat", Err: err}
	}
	bm, warns, err := ReadSyncArchive(f, st.Size())
	var ae *ArchiveError
	if errors.As(err, &ae) && ae.Path == "" {
		ae.Path = path
	}
	return bm, warns, err
}

// ReadSyncArchive imports an archive held in r. Corrupt tile entries are
// skipped and reported as warnings; the returned bitmap holds everything that
// could be read.
func ReadSyncArchive(r io.ReaderAt, size int64) (*coverage.Bitmap, []Warning, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, &ArchiveError{Reason: "not a zip archive", Err: err}
	}

	var (
		bd    = coverage.NewBuilder()
		seen  = roaring.New()
		warns []Warning
		found int
	)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, SyncDir) || f.FileInfo().IsDir() {
			continue
		}
		found++
		warns = append(warns, readTile(bd, seen, f)...)
	}
	if found == 0 {
		return nil, nil, &ArchiveError{Reason: "no " + SyncDir + " entries"}
	}
	return bd.Build(), warns, nil
}

func readTile(bd *coverage.Builder, seen *roaring.Bitmap, f *zip.File) []Warning {
	warn := func(reason, detail string) []Warning {
		return []Warning{{Entry: f.Name, Reason: reason, Detail: detail}}
	}

	tx, ty, err := ParseTileName(strings.TrimPrefix(f.Name, SyncDir))
	if err != nil {
		var ge *tiling.GeometryError
		if errors.As(err, &ge) {
			return warn(ReasonTileRange, err.Error())
		}
		return warn(ReasonBadName, err.Error())
	}
	if !seen.CheckedAdd(uint32(ty)*tiling.MapWidth + uint32(tx)) {
		return warn(ReasonDuplicate, "")
	}

	payload, reason, err := inflate(f)
	if err != nil {
		return warn(reason, err.Error())
	}
	if len(payload) < indexBytes {
		return warn(ReasonTruncated, fmt.Sprintf("%d bytes, block index needs %d", len(payload), indexBytes))
	}

	var warns []Warning
	records := payload[indexBytes:]
	nrec := len(records) / recordBytes
	if rem := len(records) % recordBytes; rem != 0 {
		warns = append(warns, Warning{Entry: f.Name, Reason: ReasonTruncated, Detail: fmt.Sprintf("%d trailing bytes", rem)})
	}

	for i := range indexEntries {
		k := int(binary.LittleEndian.Uint16(payload[2*i:]))
		if k == 0 {
			continue
		}
		key := coverage.BlockKey{
			X: int32(tx*tiling.TileWidth + i%tiling.TileWidth),
			Y: int32(ty*tiling.TileWidth + i/tiling.TileWidth),
		}
		if k > nrec {
			warns = append(warns, Warning{Entry: f.Name, Reason: ReasonIndexRange, Detail: fmt.Sprintf("block %s -> record %d of %d", key, k, nrec)})
			continue
		}
		rows, empty := decodeRecord(records[(k-1)*recordBytes:])
		if empty {
			warns = append(warns, Warning{Entry: f.Name, Reason: ReasonEmptyBlock, Detail: "block " + key.String()})
			continue
		}
		// key is in range: tx, ty were validated
		_ = bd.SetBlock(key, rows)
	}
	return warns
}

func inflate(f *zip.File) ([]byte, string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, ReasonInflate, err
	}
	defer func() { _ = rc.Close() }()

	zr, err := zlib.NewReader(rc)
	if err != nil {
		return nil, ReasonInflate, err
	}
	defer func() { _ = zr.Close() }()

	b, err := io.ReadAll(io.LimitReader(zr, maxPayload+1))
	if err != nil {
		return nil, ReasonInflate, err
	}
	if len(b) > maxPayload {
		return nil, ReasonOversized, fmt.Errorf("inflated payload exceeds %d bytes", maxPayload)
	}
	return b, "", nil
}

// decodeRecord turns 8 MSB-first bytes per row into row words whose bit c is
// column c.
func decodeRecord(rec []byte) (rows [coverage.BlockWidth]uint64, empty bool) {
	empty = true
	for r := range rows {
		var w uint64
		for j := range 8 {
			w |= uint64(bits.Reverse8(rec[r*8+j])) << (8 * j)
		}
		rows[r] = w
		if w != 0 {
			empty = false
		}
	}
	return rows, empty
}

func encodeRecord(dst []byte, rows [coverage.BlockWidth]uint64) {
	for r, w := range rows {
		for j := range 8 {
			dst[r*8+j] = bits.Reverse8(byte(w >> (8 * j)))
		}
	}
}

// ParseTileName parses "<tileX>-<tileY>". Out-of-range coordinates yield a
// *tiling.GeometryError.
func ParseTileName(name string) (x, y int, err error) {
	xs, ys, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, fmt.Errorf("tile name %q: want <x>-<y>", name)
	}
	x, err = strconv.Atoi(xs)
	if err != nil {
		return 0, 0, fmt.Errorf("tile name %q: %w", name, err)
	}
	y, err = strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("tile name %q: %w", name, err)
	}
	if x < 0 || x >= tiling.MapWidth {
		return 0, 0, &tiling.GeometryError{What: "tile x", Value: int64(x), Limit: tiling.MapWidth}
	}
	if y < 0 || y >= tiling.MapWidth {
		return 0, 0, &tiling.GeometryError{What: "tile y", Value: int64(y), Limit: tiling.MapWidth}
	}
	return x, y, nil
}

// TileName is the inverse of ParseTileName.
func TileName(x, y int) string {
	return strconv.Itoa(x) + "-" + strconv.Itoa(y)
}

// WriteSyncArchive writes b as a sync archive, one entry per touched tile in
// ascending tile id order.
func WriteSyncArchive(w io.Writer, b *coverage.Bitmap) error {
	byTile := make(map[uint32][]coverage.BlockKey)
	for k := range b.Blocks() {
		byTile[k.TileID()] = append(byTile[k.TileID()], k)
	}

	zw := zip.NewWriter(w)
	it := b.Tiles().Iterator()
	for it.HasNext() {
		id := it.Next()
		tx, ty := int(id%tiling.MapWidth), int(id/tiling.MapWidth)
		if err := writeTile(zw, b, tx, ty, byTile[id]); err != nil {
			return fmt.Errorf("write tile %s: %w", TileName(tx, ty), err)
		}
	}
	return zw.Close()
}

func writeTile(zw *zip.Writer, b *coverage.Bitmap, tx, ty int, keys []coverage.BlockKey) error {
	payload := make([]byte, indexBytes+len(keys)*recordBytes)
	for i, k := range keys {
		local := int(k.Y)%tiling.TileWidth*tiling.TileWidth + int(k.X)%tiling.TileWidth
		binary.LittleEndian.PutUint16(payload[2*local:], uint16(i+1))
		blk, _ := b.BlockAt(k)
		encodeRecord(payload[indexBytes+i*recordBytes:], blk.Rows())
	}

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: SyncDir + TileName(tx, ty), Method: zip.Store})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	zl := zlib.NewWriter(&buf)
	if _, err := zl.Write(payload); err != nil {
		return err
	}
	if err := zl.Close(); err != nil {
		return err
	}
	_, err = fw.Write(buf.Bytes())
	return err
}
