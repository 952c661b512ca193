package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the snapshot payload is packed.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 favours encode speed.
	CompressionLZ4 Compression = 1
	// CompressionZstd favours ratio.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression accepts none, lz4 or zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("snapshot: unknown compression %q", s)
}

// errCodec marks a codec that could not be set up, as opposed to bad input.
var errCodec = errors.New("snapshot: codec unavailable")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool

	newZstdEncoder = func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}
	newZstdDecoder = func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayload))
	}
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	enc, err := newZstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: zstd encoder: %v", errCodec, err)
	}
	return enc, nil
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	dec, err := newZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decoder: %v", errCodec, err)
	}
	return dec, nil
}

// compress returns nil when packing does not shrink data.
func compress(data []byte, c Compression) ([]byte, error) {
	var out []byte
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		out = buf[:n]
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", uint8(c))
	}
	if len(out) == 0 || len(out) >= len(data) {
		return nil, nil
	}
	return out, nil
}

func decompress(packed []byte, c Compression, size int) ([]byte, error) {
	out := make([]byte, size)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, fmt.Errorf("lz4: got %d bytes, want %d", n, size)
		}
		return out, nil
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		got, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, err
		}
		if len(got) != size {
			return nil, fmt.Errorf("zstd: got %d bytes, want %d", len(got), size)
		}
		return got, nil
	}
	return nil, fmt.Errorf("unknown compression %d", uint8(c))
}
