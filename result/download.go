// Package result fetches the document produced by a finished upload job.
package result

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

const (
	defaultRetries   = 3
	defaultRetryWait = 5 * time.Second
)

// ErrNoResultURL is returned when the job did not advertise a result.
var ErrNoResultURL = errors.New("result URL is empty")

// Downloader ...
type Downloader struct {
	client    *http.Client
	logger    log.Logger
	retries   uint
	retryWait time.Duration
}

// NewDownloader creates a downloader on a retryablehttp client. A nil
// httpClient gets a client with a retry policy that logs each decision.
func NewDownloader(httpClient *retryablehttp.Client, logger log.Logger) *Downloader {
	if httpClient == nil {
		httpClient = retryhttp.NewClient(logger)
		httpClient.CheckRetry = createCustomRetryFunction(logger)
	}
	return &Downloader{
		client:    httpClient.StandardClient(),
		logger:    logger,
		retries:   defaultRetries,
		retryWait: defaultRetryWait,
	}
}

// WithRetries returns a copy of the downloader retrying a failed download
// retries times, waiting wait between the attempts.
func (d Downloader) WithRetries(retries uint, wait time.Duration) *Downloader {
	d.retries = retries
	d.retryWait = wait
	return &d
}

// Download stores the document at url in dest. Parent directories of dest
// are created. A partially written file is removed before the next attempt.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	if url == "" {
		return ErrNoResultURL
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	err := retry.Times(d.retries).Wait(d.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			d.logger.Warnf("Retrying result download (attempt %d)", attempt+1)
		}
		if err := ctx.Err(); err != nil {
			return err, true
		}

		if err := d.downloadFile(ctx, url, dest); err != nil {
			if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				d.logger.Debugf("Remove partial download: %s", rmErr)
			}
			return fmt.Errorf("download result: %w", err), ctx.Err() != nil
		}
		return nil, true
	})
	if err != nil {
		return fmt.Errorf("all retries failed: %w", err)
	}

	if info, err := os.Stat(dest); err == nil {
		d.logger.Donef("Result downloaded to %s (%s)", dest, units.HumanSizeWithPrecision(float64(info.Size()), 3))
	}
	return nil
}

func (d *Downloader) downloadFile(ctx context.Context, url, dest string) error {
	downloader := got.New()
	downloader.Client = d.client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

func createCustomRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}
