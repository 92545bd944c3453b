package objectstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionLevel balances speed and ratio for the data shapes
// we store. Levels above MaxCompressionLevel are rejected outright: the
// dfast strategy misbehaves on this data above level 4.
const (
	DefaultCompressionLevel = 2
	MaxCompressionLevel     = 4
)

// Compress zstd-compresses data at the given level (1-4).
func Compress(data []byte, level int) ([]byte, error) {
	if level < 1 {
		level = DefaultCompressionLevel
	}
	if level > MaxCompressionLevel {
		return nil, fmt.Errorf("compression level %d not supported, maximum is %d", level, MaxCompressionLevel)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd encoder close: %w", err)
	}
	return out, nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
