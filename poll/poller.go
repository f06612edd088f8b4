// Package poll watches a server-side job until it reports a terminal status.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

var (
	// ErrExhausted is wrapped when a query kept failing after every retry.
	ErrExhausted = errors.New("status query retries exhausted")
	// ErrAlreadyPolling is returned when a watch is started while another one runs.
	ErrAlreadyPolling = errors.New("already polling")
	// ErrNoJobID is returned when a watch is started without a job id.
	ErrNoJobID = errors.New("job id is empty")
)

// State of a Poller.
type State string

// Poller states.
const (
	StateDisabled  State = "disabled"
	StatePolling   State = "polling"
	StateSettled   State = "settled"
	StateExhausted State = "failed-exhausted"
)

// Snapshot is a copy of the poller's state.
type Snapshot struct {
	State State
	JobID string
	// Last is the last successfully fetched status.
	Last JobStatus
	// Err is the last query failure; it is kept until the next watch starts.
	Err error
	// Queries counts status requests made by the current watch, retries included.
	Queries int
}

// Option configures a Poller.
type Option func(*Poller)

// WithConfig overrides DefaultConfig. Unset fields keep their default.
func WithConfig(config Config) Option {
	return func(p *Poller) { p.config = config }
}

// WithWaiter overrides the wall clock waiter.
func WithWaiter(waiter Waiter) Option {
	return func(p *Poller) { p.waiter = waiter }
}

// Poller re-queries one job on a fixed cadence with bounded exponential
// backoff on failures. Independent pollers do not coordinate with each other.
type Poller struct {
	fetcher StatusFetcher
	waiter  Waiter
	config  Config
	logger  log.Logger

	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller ...
func NewPoller(fetcher StatusFetcher, logger log.Logger, opts ...Option) *Poller {
	p := &Poller{
		fetcher: fetcher,
		waiter:  NewClockWaiter(),
		config:  DefaultConfig(),
		logger:  logger,
		snap:    Snapshot{State: StateDisabled},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.config = p.config.withDefaults()
	return p
}

// Snapshot returns a copy of the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Watch polls jobID on the calling goroutine until the job settles, the
// retries are exhausted or ctx is done. Cancelling ctx also aborts the query in flight.
func (p *Poller) Watch(ctx context.Context, jobID string) (JobStatus, error) {
	if err := p.begin(jobID, nil, nil); err != nil {
		return JobStatus{}, err
	}
	return p.run(ctx, ctx, jobID)
}

// Enable starts polling jobID in the background.
func (p *Poller) Enable(jobID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if err := p.begin(jobID, cancel, done); err != nil {
		cancel()
		return err
	}

	go func() {
		defer close(done)
		defer cancel()
		// a query in flight outlives Disable, only scheduling is cancelled
		_, _ = p.run(ctx, context.WithoutCancel(ctx), jobID)
	}()

	return nil
}

// Disable stops scheduling further queries of the background watch. A query
// in flight is not aborted; its result is still recorded.
func (p *Poller) Disable() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed when the background watch started by Enable ends.
// It is nil before the first Enable.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Poller) begin(jobID string, cancel context.CancelFunc, done chan struct{}) error {
	if jobID == "" {
		return ErrNoJobID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snap.State == StatePolling {
		return ErrAlreadyPolling
	}
	p.snap = Snapshot{State: StatePolling, JobID: jobID}
	p.cancel = cancel
	if done != nil {
		p.done = done
	}
	return nil
}

// run alternates queries and waits. Waits observe scheduleCtx, queries observe queryCtx.
func (p *Poller) run(scheduleCtx, queryCtx context.Context, jobID string) (JobStatus, error) {
	for {
		status, err := p.query(scheduleCtx, queryCtx, jobID)
		if err != nil {
			if scheduleCtx.Err() != nil {
				p.finish(StateDisabled)
				return status, err
			}
			p.logger.Errorf("Giving up on job %s: %s", jobID, err)
			p.finish(StateExhausted)
			return status, err
		}

		if status.Terminal() {
			p.logger.Infof("Job %s finished with status: %s", jobID, status.Status)
			p.finish(StateSettled)
			return status, nil
		}

		p.logger.Debugf("Job %s status: %q, next query in %s", jobID, status.Status, p.config.Interval)
		if err := p.wait(scheduleCtx, p.config.Interval); err != nil {
			p.finish(StateDisabled)
			return status, err
		}
	}
}

// query fetches the status, retrying failures on the configured backoff.
func (p *Poller) query(scheduleCtx, queryCtx context.Context, jobID string) (JobStatus, error) {
	backoff := p.config.backoff()
	for {
		status, err := p.fetcher.Status(queryCtx, jobID)
		p.record(status, err)
		if err == nil {
			return status, nil
		}

		delay, stop := backoff.Next()
		if stop {
			return JobStatus{}, fmt.Errorf("%w: %w", ErrExhausted, err)
		}

		p.logger.Warnf("Status query for job %s failed, retrying in %s: %s", jobID, delay, err)
		if werr := p.wait(scheduleCtx, delay); werr != nil {
			return JobStatus{}, werr
		}
	}
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.waiter.Wait(ctx, d)
}

func (p *Poller) record(status JobStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.Queries++
	if err != nil {
		p.snap.Err = err
		return
	}
	p.snap.Last = status
}

func (p *Poller) finish(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.State = state
	p.cancel = nil
}
