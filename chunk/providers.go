package chunk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SourceProvider slices a Source into fixed-size chunks by byte offset.
// Reads go through io.ReaderAt, so it is safe to use from several goroutines.
type SourceProvider struct {
	source    Source
	chunkSize int64
	numChunks int
}

// NewSourceProvider creates a Provider that reads chunkSize slices of source.
func NewSourceProvider(source Source, chunkSize int64) (*SourceProvider, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	return &SourceProvider{
		source:    source,
		chunkSize: chunkSize,
		numChunks: Count(source.Size(), chunkSize),
	}, nil
}

// NumChunks returns the total number of chunks.
func (p *SourceProvider) NumChunks() int {
	return p.numChunks
}

// ChunkSize returns the size of the chunk at the given index.
func (p *SourceProvider) ChunkSize(index int) int64 {
	if index < 0 || index >= p.numChunks {
		return 0
	}
	if index == p.numChunks-1 {
		return p.source.Size() - int64(index)*p.chunkSize
	}
	return p.chunkSize
}

// GetChunk reads the chunk at the given index into memory.
func (p *SourceProvider) GetChunk(index int) ([]byte, error) {
	if index < 0 || index >= p.numChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.numChunks)
	}

	size := p.ChunkSize(index)
	offset := int64(index) * p.chunkSize

	chunk := make([]byte, size)
	n, err := io.ReadFull(io.NewSectionReader(p.source, offset, size), chunk)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read chunk %d: %w", index+1, err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("short read at chunk %d: expected %d bytes, got %d", index+1, size, n)
	}

	return chunk, nil
}

// FileSource is a Source backed by a file on disk.
type FileSource struct {
	file *os.File
	name string
	size int64
}

// OpenFile opens the file at path as a Source. The caller closes it.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		file: file,
		name: filepath.Base(path),
		size: info.Size(),
	}, nil
}

// Name ...
func (s *FileSource) Name() string { return s.name }

// Size ...
func (s *FileSource) Size() int64 { return s.size }

// ReadAt ...
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// BytesSource is an in-memory Source.
type BytesSource struct {
	*bytes.Reader
	name string
}

// NewBytesSource wraps data as a Source called name.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{
		Reader: bytes.NewReader(data),
		name:   name,
	}
}

// Name ...
func (s *BytesSource) Name() string { return s.name }
