// Package upload drives documents through chunking, compression and transport,
// one chunk and one file at a time, and keeps the state of the batch.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/imbuddy/docupload/chunk"
	"github.com/imbuddy/docupload/transport"
)

var (
	// ErrBatchInProgress is returned by UploadFiles while another batch is pending.
	ErrBatchInProgress = errors.New("a batch upload is already in progress")
	// ErrBatchReset is returned by a batch that was discarded by Reset.
	ErrBatchReset = errors.New("batch upload was reset")
)

// ProgressFunc receives one snapshot per acknowledged chunk, in order.
type ProgressFunc func(Progress)

// Observer receives every new JobState, in the order the states were written.
// Observers run synchronously and must not call methods of the Orchestrator.
type Observer func(JobState)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChunkSize overrides chunk.DefaultChunkSize.
func WithChunkSize(size int64) Option {
	return func(o *Orchestrator) { o.chunkSize = size }
}

// WithCompressor overrides the default gzip compressor.
func WithCompressor(c chunk.Compressor) Option {
	return func(o *Orchestrator) { o.compressor = c }
}

// WithClock sets the clock used for upload speed.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithObserver registers a state observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithTracker enqueues upload events on tracker.
func WithTracker(tracker analytics.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = newUploadTracker(tracker) }
}

// WithJobIDGenerator replaces the random UUID job ids.
func WithJobIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newJobID = fn }
}

// Orchestrator uploads files sequentially over a Transport. It is the only
// writer of its JobState; readers get copies through State and observers.
type Orchestrator struct {
	transport  transport.Transport
	compressor chunk.Compressor
	chunkSize  int64
	clock      clock.Clock
	logger     log.Logger
	tracker    uploadTracker
	newJobID   func() string
	observers  []Observer

	mu    sync.RWMutex
	state JobState
	// generation is bumped by Reset so a discarded batch can no longer write.
	generation uint64

	// notifyMu is taken before mu is released, so observers see the writes in order.
	notifyMu sync.Mutex
	// sendSlot holds one token: at most one chunk request is outstanding,
	// including the last chunk of a batch discarded by Reset.
	sendSlot chan struct{}
}

// New creates an Orchestrator sending chunks over t.
func New(t transport.Transport, logger log.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		transport: t,
		chunkSize: chunk.DefaultChunkSize,
		clock:     clock.New(),
		logger:    logger,
		newJobID:  uuid.NewString,
		state:     idleState(),
		sendSlot:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", o.chunkSize)
	}
	if o.compressor == nil {
		c, err := chunk.NewGzipCompressor(0)
		if err != nil {
			return nil, err
		}
		o.compressor = c
	}

	return o, nil
}

// State returns a copy of the current state.
func (o *Orchestrator) State() JobState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Reset restores the idle state. A batch still running finishes the chunk in
// flight and then stops with ErrBatchReset; it sends and records nothing more.
// A new batch sends its first chunk only after that chunk returned.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.generation++
	o.state = idleState()
	state := o.state
	o.notifyMu.Lock()
	o.mu.Unlock()

	defer o.notifyMu.Unlock()
	o.notify(state)
}

// UploadFile sends every chunk of source in order, waiting for each
// acknowledgment before reading the next chunk. The first failure aborts the file.
func (o *Orchestrator) UploadFile(ctx context.Context, jobID string, source chunk.Source, onProgress ProgressFunc) error {
	_, err := o.uploadFile(ctx, jobID, source, onProgress, nil)
	return err
}

// uploadFile stops before the next chunk once active reports false.
func (o *Orchestrator) uploadFile(ctx context.Context, jobID string, source chunk.Source, onProgress ProgressFunc, active func() bool) (*fileStats, error) {
	provider, err := chunk.NewSourceProvider(source, o.chunkSize)
	if err != nil {
		return nil, err
	}

	name := source.Name()
	totalChunks := provider.NumChunks()
	stats := newFileStats(o.clock)

	o.logger.Debugf("Uploading %s (%s) in %d chunks", name, units.HumanSizeWithPrecision(float64(source.Size()), 3), totalChunks)

	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("chunk %d of %s: %w", i+1, name, err)
		}
		if active != nil && !active() {
			return stats, ErrBatchReset
		}

		data, err := provider.GetChunk(i)
		if err != nil {
			return stats, err
		}

		compressed, err := o.compressor.Compress(data)
		if err != nil {
			return stats, fmt.Errorf("compress chunk %d of %s: %w", i+1, name, err)
		}

		meta := chunk.Metadata{
			JobID:          jobID,
			ChunkIndex:     i + 1,
			TotalChunks:    totalChunks,
			FileName:       name,
			OriginalSize:   int64(len(data)),
			CompressedSize: int64(len(compressed)),
		}

		if err := o.send(ctx, compressed, meta); err != nil {
			o.logger.Errorf("Chunk %d/%d of %s failed: %s", i+1, totalChunks, name, err)
			return stats, err
		}

		stats.update(len(data), len(compressed))

		progress := Progress{
			CurrentFile:      name,
			CurrentChunk:     i + 1,
			TotalChunks:      totalChunks,
			CompressionRatio: stats.compressionRatio(),
			UploadSpeed:      stats.uploadSpeed(),
		}
		o.logger.Debugf("Chunk %d/%d of %s sent, ratio: %.3f, speed: %.1f KB/s",
			i+1, totalChunks, name, progress.CompressionRatio, progress.UploadSpeed)

		if onProgress != nil {
			onProgress(progress)
		}
	}

	return stats, nil
}

func (o *Orchestrator) send(ctx context.Context, data []byte, meta chunk.Metadata) error {
	select {
	case o.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("chunk %d of %s: %w", meta.ChunkIndex, meta.FileName, ctx.Err())
	}
	defer func() { <-o.sendSlot }()

	_, err := o.transport.Send(ctx, data, meta)
	return err
}

// UploadFiles uploads files one after the other under a fresh job id.
// The batch stops at the first failing file; the remaining files are not attempted.
// The job id is returned even when the batch fails.
func (o *Orchestrator) UploadFiles(ctx context.Context, files []chunk.Source) (string, error) {
	o.mu.Lock()
	if o.state.Status == StatusPending {
		o.mu.Unlock()
		return "", ErrBatchInProgress
	}
	jobID := o.newJobID()
	o.generation++
	generation := o.generation
	o.state = JobState{
		Status:   StatusPending,
		JobID:    jobID,
		Progress: Progress{TotalFiles: len(files)},
	}
	state := o.state
	o.notifyMu.Lock()
	o.mu.Unlock()
	o.notify(state)
	o.notifyMu.Unlock()

	defer o.tracker.wait()

	o.logger.Infof("Uploading %d file(s), job ID: %s", len(files), jobID)

	active := func() bool { return o.isCurrent(generation) }
	detached := func() (string, error) {
		o.logger.Warnf("Job %s was reset, stopping the batch", jobID)
		return jobID, ErrBatchReset
	}

	for fileIndex, file := range files {
		name := file.Name()
		if _, ok := o.update(generation, func(s JobState) JobState {
			s.Progress = Progress{
				TotalFiles:     s.Progress.TotalFiles,
				ProcessedFiles: fileIndex,
				CurrentFile:    name,
				TotalChunks:    chunk.Count(file.Size(), o.chunkSize),
			}
			return s
		}); !ok {
			return detached()
		}

		stats, err := o.uploadFile(ctx, jobID, file, func(p Progress) {
			o.update(generation, func(s JobState) JobState {
				p.TotalFiles = s.Progress.TotalFiles
				p.ProcessedFiles = fileIndex
				s.Progress = p
				return s
			})
		}, active)
		if errors.Is(err, ErrBatchReset) {
			return detached()
		}
		if err != nil {
			err = fmt.Errorf("upload %s: %w", name, err)
			final, ok := o.update(generation, func(s JobState) JobState {
				s.Status = StatusError
				s.Error = err.Error()
				return s
			})
			if ok {
				o.tracker.logBatchFinished(final)
			}
			return jobID, err
		}

		if _, ok := o.update(generation, func(s JobState) JobState {
			s.Progress.ProcessedFiles = fileIndex + 1
			return s
		}); !ok {
			return detached()
		}
		o.tracker.logFileUploaded(jobID, name, stats)
		o.logger.Donef("Uploaded %s in %s (%d chunks, ratio %.3f)", name, stats.elapsed().Round(time.Millisecond), stats.chunks, stats.compressionRatio())
	}

	final, ok := o.update(generation, func(s JobState) JobState {
		s.Status = StatusComplete
		return s
	})
	if !ok {
		return detached()
	}
	o.tracker.logBatchFinished(final)

	return jobID, nil
}

func (o *Orchestrator) isCurrent(generation uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return generation == o.generation
}

// update replaces the state with fn(state) unless the batch was reset meanwhile.
// ok is false when the write was dropped.
func (o *Orchestrator) update(generation uint64, fn func(JobState) JobState) (state JobState, ok bool) {
	o.mu.Lock()
	if generation != o.generation {
		o.mu.Unlock()
		return JobState{}, false
	}
	o.state = fn(o.state)
	state = o.state
	o.notifyMu.Lock()
	o.mu.Unlock()

	defer o.notifyMu.Unlock()
	o.notify(state)
	return state, true
}

func (o *Orchestrator) notify(state JobState) {
	for _, observer := range o.observers {
		observer(state)
	}
}
