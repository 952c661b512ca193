// Package snapshot is the storage form of a coverage bitmap: a small header,
// a checksum, and an optionally compressed block list.
//
// Layout (little endian):
//
//	magic "FGS1" | compression u8 | raw size u32 | packed size u32 (0 = stored raw) | xxhash64 of raw | data
//
// The raw payload is a uvarint block count followed, per block in sorted key
// order, by X i32, Y i32, a u64 mask of non-zero rows, and one u64 per
// non-zero row.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
)

const (
	magic      = "FGS1"
	headerSize = len(magic) + 1 + 4 + 4 + 8
	maxPayload = 256 << 20
)

// ErrCorrupt is wrapped by every decode failure.
var ErrCorrupt = errors.New("snapshot: corrupt")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

func appendRaw(dst []byte, b *coverage.Bitmap) []byte {
	dst = binary.AppendUvarint(dst, uint64(b.Len()))
	for k, blk := range b.Blocks() {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(k.X))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(k.Y))
		rows := blk.Rows()
		var mask uint64
		for r, w := range rows {
			if w != 0 {
				mask |= 1 << r
			}
		}
		dst = binary.LittleEndian.AppendUint64(dst, mask)
		for _, w := range rows {
			if w != 0 {
				dst = binary.LittleEndian.AppendUint64(dst, w)
			}
		}
	}
	return dst
}

// Fingerprint hashes the pixel content of b. Equal bitmaps have equal
// fingerprints regardless of how they were built.
func Fingerprint(b *coverage.Bitmap) uint64 {
	return xxhash.Sum64(appendRaw(nil, b))
}

// Encode serialises b. If compression does not shrink the payload it is
// stored raw.
func Encode(b *coverage.Bitmap, c Compression) ([]byte, error) {
	raw := appendRaw(nil, b)
	if len(raw) > maxPayload {
		return nil, fmt.Errorf("snapshot: payload of %d bytes exceeds %d", len(raw), maxPayload)
	}
	packed, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compress %s: %w", c, err)
	}

	data, method := raw, CompressionNone
	if packed != nil {
		data, method = packed, c
	}
	out := make([]byte, 0, headerSize+len(data))
	out = append(out, magic...)
	out = append(out, byte(method))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(raw)))
	if method == CompressionNone {
		out = binary.LittleEndian.AppendUint32(out, 0)
	} else {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	}
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(raw))
	return append(out, data...), nil
}

// Decode is the inverse of Encode. Failures wrap ErrCorrupt.
func Decode(data []byte) (*coverage.Bitmap, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, corrupt("bad header")
	}
	method := Compression(data[4])
	rawSize := int(binary.LittleEndian.Uint32(data[5:]))
	packedSize := int(binary.LittleEndian.Uint32(data[9:]))
	sum := binary.LittleEndian.Uint64(data[13:])
	body := data[headerSize:]

	if rawSize > maxPayload {
		return nil, corrupt("raw size %d exceeds limit", rawSize)
	}

	var raw []byte
	if packedSize == 0 {
		if len(body) != rawSize {
			return nil, corrupt("stored body is %d bytes, header says %d", len(body), rawSize)
		}
		raw = body
	} else {
		if len(body) != packedSize {
			return nil, corrupt("packed body is %d bytes, header says %d", len(body), packedSize)
		}
		var err error
		raw, err = decompress(body, method, rawSize)
		if errors.Is(err, errCodec) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	if xxhash.Sum64(raw) != sum {
		return nil, corrupt("checksum mismatch")
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []byte) (*coverage.Bitmap, error) {
	n, k := binary.Uvarint(raw)
	if k <= 0 {
		return nil, corrupt("block count")
	}
	raw = raw[k:]
	// each block needs at least its key and mask
	if n > uint64(len(raw)/16) {
		return nil, corrupt("block count %d too large for %d bytes", n, len(raw))
	}

	bd := coverage.NewBuilder()
	for i := range n {
		if len(raw) < 16 {
			return nil, corrupt("block %d truncated", i)
		}
		key := coverage.BlockKey{
			X: int32(binary.LittleEndian.Uint32(raw)),
			Y: int32(binary.LittleEndian.Uint32(raw[4:])),
		}
		mask := binary.LittleEndian.Uint64(raw[8:])
		raw = raw[16:]
		if mask == 0 {
			return nil, corrupt("block %s is empty", key)
		}
		need := bits.OnesCount64(mask) * 8
		if len(raw) < need {
			return nil, corrupt("block %s rows truncated", key)
		}
		var rows [coverage.BlockWidth]uint64
		for m := mask; m != 0; m &= m - 1 {
			r := bits.TrailingZeros64(m)
			rows[r] = binary.LittleEndian.Uint64(raw)
			raw = raw[8:]
		}
		if err := bd.SetBlock(key, rows); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	if len(raw) != 0 {
		return nil, corrupt("%d trailing bytes", len(raw))
	}
	return bd.Build(), nil
}
