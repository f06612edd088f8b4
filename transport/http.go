package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/imbuddy/docupload/chunk"
)

// ChunkPath is the chunk upload endpoint relative to the API base URL.
const ChunkPath = "/api/upload-chunk"

// HTTPTransport posts every chunk as a multipart form with a `chunk` and a `metadata` part.
type HTTPTransport struct {
	httpClient *retryablehttp.Client
	url        string
	logger     log.Logger
}

// NewHTTPClient returns a retryablehttp client that makes a single attempt per request.
func NewHTTPClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	return client
}

// NewHTTPTransport creates a transport for the API at baseURL. A nil client
// is replaced with NewHTTPClient.
func NewHTTPTransport(client *retryablehttp.Client, baseURL string, logger log.Logger) *HTTPTransport {
	if client == nil {
		client = NewHTTPClient(logger)
	}
	return &HTTPTransport{
		httpClient: client,
		url:        strings.TrimSuffix(baseURL, "/") + ChunkPath,
		logger:     logger,
	}
}

// Send uploads data in a single round trip.
func (t *HTTPTransport) Send(ctx context.Context, data []byte, meta chunk.Metadata) (Ack, error) {
	if err := validate(data, meta); err != nil {
		return Ack{}, err
	}

	body, contentType, err := encodeMultipart(data, meta)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: create request: %w", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		t.logger.Warnf("error while dumping request: %s", err)
	}
	t.logger.Debugf("Chunk request dump: %s", string(dump))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: chunk %d/%d of %s: %w", ErrUploadFailed, meta.ChunkIndex, meta.TotalChunks, meta.FileName, err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			t.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Ack{}, fmt.Errorf("%w: chunk %d/%d of %s: %w", ErrUploadFailed, meta.ChunkIndex, meta.TotalChunks, meta.FileName, unwrapError(resp))
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("%w: decode acknowledgment for chunk %d: %w", ErrUploadFailed, meta.ChunkIndex, err)
	}

	return ack, nil
}

func encodeMultipart(data []byte, meta chunk.Metadata) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("chunk", meta.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("create chunk part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write chunk part: %w", err)
	}

	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := w.WriteField("metadata", string(metadata)); err != nil {
		return nil, "", fmt.Errorf("write metadata part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
