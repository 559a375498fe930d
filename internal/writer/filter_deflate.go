package writer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DeflateFilter implements the registered deflate filter (ID 1): zlib
// streams, the same format the C library produces through libz.
type DeflateFilter struct {
	Level int
}

// NewDeflateFilter creates a deflate filter with the given compression
// level (0-9); out-of-range levels fall back to the default.
func NewDeflateFilter(level int) *DeflateFilter {
	if level < zlib.NoCompression || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &DeflateFilter{Level: level}
}

// Encode compresses one chunk.
func (f *DeflateFilter) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, f.Level)
	if err != nil {
		return nil, fmt.Errorf("deflate init failed: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("deflate failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses one chunk.
func (f *DeflateFilter) Decode(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("inflate init failed: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate failed: %w", err)
	}
	return out, nil
}
