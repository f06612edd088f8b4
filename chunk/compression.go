package chunk

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names accepted by NewCompressor.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Compressor compresses a single chunk. No state carries over between calls.
type Compressor interface {
	// Name is the content encoding of the compressed bytes.
	Name() string

	// Extension is appended to object names holding compressed chunks.
	Extension() string

	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCompressor returns the compressor called name. Level 0 selects the codec's default level.
func NewCompressor(name string, level int) (Compressor, error) {
	switch name {
	case "", CompressionGzip:
		return NewGzipCompressor(level)
	case CompressionZstd:
		return NewZstdCompressor(level)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", name)
	}
}

// GzipCompressor produces a complete gzip stream per chunk.
type GzipCompressor struct {
	level int
}

// NewGzipCompressor ...
func NewGzipCompressor(level int) (*GzipCompressor, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("gzip compression level should be between %d and %d", gzip.HuffmanOnly, gzip.BestCompression)
	}
	return &GzipCompressor{level: level}, nil
}

// Name ...
func (c *GzipCompressor) Name() string { return CompressionGzip }

// Extension ...
func (c *GzipCompressor) Extension() string { return ".gz" }

// Compress ...
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write gzip stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress ...
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer r.Close() //nolint:errcheck

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}
	return out, nil
}

// ZstdCompressor encodes every chunk as an independent zstd frame.
// The encoder and decoder are reused across chunks; EncodeAll and DecodeAll
// are safe for concurrent use.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a zstd codec. Valid levels are between 1 and 19.
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level == 0 {
		level = 3
	}
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("zstd compression level should be between 1 and 19")
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}

	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Name ...
func (c *ZstdCompressor) Name() string { return CompressionZstd }

// Extension ...
func (c *ZstdCompressor) Extension() string { return ".zst" }

// Compress ...
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress ...
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decode zstd frame: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *ZstdCompressor) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
