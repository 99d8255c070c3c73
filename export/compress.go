package export

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type gzipCompressor struct{}

// NewGzipCompressor returns a gzip compressor (".gz").
func NewGzipCompressor() Compressor { return gzipCompressor{} }

func (gzipCompressor) Name() string      { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCompressor struct {
	level zstd.EncoderLevel
}

// NewZstdCompressor returns a zstd compressor (".zst") at the default level.
func NewZstdCompressor() Compressor {
	return zstdCompressor{level: zstd.SpeedDefault}
}

func (zstdCompressor) Name() string      { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (z zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type noopCompressor struct{}

// NewNoOpCompressor returns a compressor that passes data through.
func NewNoOpCompressor() Compressor { return noopCompressor{} }

func (noopCompressor) Name() string      { return "noop" }
func (noopCompressor) Extension() string { return "" }

func (noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CompressorByName returns the compressor recorded in a manifest as name.
// An empty name selects noop.
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case "", "noop", "none":
		return NewNoOpCompressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "zstd":
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("export: unknown compressor %q", name)
	}
}
