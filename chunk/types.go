// Package chunk splits documents into fixed-size chunks and compresses every chunk on its own.
package chunk

import (
	"io"

	"github.com/docker/go-units"
)

// DefaultChunkSize is the nominal size of every chunk except the last one.
const DefaultChunkSize int64 = 5 * units.MiB

// Source is a named, sized, randomly readable document.
type Source interface {
	io.ReaderAt

	// Name is reported to the server as the file name of every chunk.
	Name() string

	// Size is the total length of the document in bytes.
	Size() int64
}

// Metadata describes one compressed chunk on the wire.
type Metadata struct {
	JobID          string `json:"jobId,omitempty"`
	ChunkIndex     int    `json:"chunkIndex"`
	TotalChunks    int    `json:"totalChunks"`
	FileName       string `json:"fileName"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
}

// Provider provides chunk data for upload.
type Provider interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the size of the chunk at the given index.
	ChunkSize(index int) int64

	// GetChunk returns the uncompressed bytes of the chunk at the given (0-based) index.
	GetChunk(index int) ([]byte, error)
}

// Count returns ceil(size / chunkSize). An empty source has no chunks.
func Count(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}
