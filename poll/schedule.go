package poll

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
)

// Config holds the polling cadence and the retry policy of a single query.
// Zero or negative fields take their default.
type Config struct {
	// Interval separates two queries when the job is not finished yet.
	// Default: 2 seconds
	Interval time.Duration

	// RetryBase is the delay before the first retry of a failed query; it doubles on every further retry.
	// Default: 1 second
	RetryBase time.Duration

	// RetryCap caps the retry delay.
	// Default: 30 seconds
	RetryCap time.Duration

	// MaxRetries is the number of retries of a failed query before giving up.
	// Default: 3
	MaxRetries uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   2 * time.Second,
		RetryBase:  time.Second,
		RetryCap:   30 * time.Second,
		MaxRetries: 3,
	}
}

// withDefaults fills the zero fields with their DefaultConfig values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryCap <= 0 {
		c.RetryCap = d.RetryCap
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// backoff yields min(RetryBase * 2^k, RetryCap) for k = 0..MaxRetries-1, then stops.
func (c Config) backoff() retry.Backoff {
	b := retry.NewExponential(c.RetryBase)
	b = retry.WithCappedDuration(c.RetryCap, b)
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// Waiter blocks for a delay. It is the scheduling seam of the poller: a
// cancelled context is the cancellation token of the scheduled query.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// ClockWaiter waits on timers of a clock.Clock.
type ClockWaiter struct {
	Clock clock.Clock
}

// NewClockWaiter returns a waiter on the wall clock.
func NewClockWaiter() ClockWaiter {
	return ClockWaiter{Clock: clock.New()}
}

// Wait ...
func (w ClockWaiter) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := w.Clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
