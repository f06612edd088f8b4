// Package transport delivers compressed chunks to the document processing service.
//
// A Transport performs exactly one attempt per call. Retrying a chunk is the
// caller's decision; the upload orchestrator never does.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/imbuddy/docupload/chunk"
)

// ErrUploadFailed is wrapped by every error returned from Send.
var ErrUploadFailed = errors.New("upload failed")

// ErrEmptyChunk is returned when Send is called without data.
var ErrEmptyChunk = errors.New("chunk is empty")

// Ack is the server's acknowledgment of one chunk.
type Ack struct {
	Message    string `json:"message,omitempty"`
	ChunkIndex int    `json:"chunkIndex,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Transport sends one compressed chunk together with its metadata.
type Transport interface {
	Send(ctx context.Context, data []byte, meta chunk.Metadata) (Ack, error)
}

func validate(data []byte, meta chunk.Metadata) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %w", ErrUploadFailed, ErrEmptyChunk)
	}
	if meta.FileName == "" {
		return fmt.Errorf("%w: metadata has no file name", ErrUploadFailed)
	}
	if meta.TotalChunks < 1 || meta.ChunkIndex < 1 || meta.ChunkIndex > meta.TotalChunks {
		return fmt.Errorf("%w: chunk index %d out of range [1, %d]", ErrUploadFailed, meta.ChunkIndex, meta.TotalChunks)
	}
	return nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
