package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrStatusQuery is wrapped by every failed status query.
var ErrStatusQuery = errors.New("failed to fetch upload results")

// Terminal job statuses.
const (
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus is the body of the status endpoint. Only Status drives the poller.
type JobStatus struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Terminal reports whether no further queries should be made.
func (s JobStatus) Terminal() bool {
	return s.Status == JobComplete || s.Status == JobError
}

// StatusFetcher queries the status of a job once.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// Client queries GET <base>/api/upload/<jobID>.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	logger     log.Logger
}

// NewClient creates a status client. The poller owns the retry policy, so a
// nil httpClient is replaced by one that makes a single attempt.
func NewClient(httpClient *retryablehttp.Client, baseURL string, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = retryhttp.NewClient(logger)
		httpClient.RetryMax = 0
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// Status ...
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	apiURL := fmt.Sprintf("%s/api/upload/%s", c.baseURL, url.PathEscape(jobID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("%w: %w", ErrStatusQuery, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("%w: %w", ErrStatusQuery, err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return JobStatus{}, fmt.Errorf("%w: %w", ErrStatusQuery, unwrapError(resp))
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return JobStatus{}, fmt.Errorf("%w: decode response: %w", ErrStatusQuery, err)
	}

	return status, nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
