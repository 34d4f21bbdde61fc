package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression algorithm for snapshot payloads.
type Compression uint8

const (
	// CompressionNone stores blocks uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, lighter ratio).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio, default).
	CompressionZSTD Compression = 2
)

// String implements the fmt.Stringer interface.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a stable name back to its Compression. Manifests
// record the name, so readers never guess the algorithm from the bytes.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown compression %q", name)
	}
}

// blockSize is the uncompressed payload span of one block.
const blockSize = 64 * 1024

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 marks a block stored uncompressed, which happens
// whenever compression does not pay for itself.
const blockHeaderSize = 8

// ZSTD coder pools; encoders are expensive to stand up per block.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compressBlock frames one block, falling back to an uncompressed frame when
// the compressed form saves less than 10%.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	var err error

	switch c {
	case CompressionLZ4:
		compressed, err = compressBlockLZ4(data)
	case CompressionZSTD:
		compressed, err = compressBlockZSTD(data)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

func compressBlockLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}

	return compressed[:n], nil
}

func compressBlockZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

// decompressBlock unframes the block at the head of data and returns the
// payload plus the number of framed bytes consumed.
func decompressBlock(data []byte, c Compression) ([]byte, int, error) {
	if len(data) < blockHeaderSize {
		return nil, 0, errors.New("snapshot: block too small for header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		end := blockHeaderSize + int(uncompressedSize)
		if len(data) < end {
			return nil, 0, errors.New("snapshot: truncated uncompressed block")
		}
		return data[blockHeaderSize:end], end, nil
	}

	end := blockHeaderSize + int(compressedSize)
	if len(data) < end {
		return nil, 0, errors.New("snapshot: truncated compressed block")
	}
	framed := data[blockHeaderSize:end]

	switch c {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(framed, out)
		if err != nil {
			return nil, 0, err
		}
		if n != int(uncompressedSize) {
			return nil, 0, fmt.Errorf("snapshot: block inflated to %d bytes, header says %d", n, uncompressedSize)
		}
		return out, end, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(framed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, 0, err
		}
		return out, end, nil
	default:
		return nil, 0, fmt.Errorf("snapshot: compressed block under %s framing", c)
	}
}

// compressPayload splits payload into blockSize spans and frames each.
func compressPayload(payload []byte, c Compression) ([]byte, error) {
	out := make([]byte, 0, len(payload)/2+blockHeaderSize)
	for off := 0; off < len(payload); off += blockSize {
		end := min(off+blockSize, len(payload))

		block, err := compressBlock(payload[off:end], c)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}

	return out, nil
}

// decompressPayload inflates a sequence of framed blocks back into one
// payload of the given total size.
func decompressPayload(data []byte, c Compression, uncompressedSize int64) ([]byte, error) {
	out := make([]byte, 0, uncompressedSize)
	for len(data) > 0 {
		block, consumed, err := decompressBlock(data, c)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		data = data[consumed:]
	}

	if int64(len(out)) != uncompressedSize {
		return nil, fmt.Errorf("snapshot: payload inflated to %d bytes, manifest says %d", len(out), uncompressedSize)
	}

	return out, nil
}
