package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/imbuddy/docupload/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() chunk.Metadata {
	return chunk.Metadata{
		JobID:          "0b6f7d2e-1f4c-4f0e-a7c1-1d1f3c8e9a11",
		ChunkIndex:     2,
		TotalChunks:    3,
		FileName:       "i-765.pdf",
		OriginalSize:   5242880,
		CompressedSize: 11,
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	var gotMeta chunk.Metadata
	var gotChunk []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ChunkPath, r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &gotMeta))

		file, header, err := r.FormFile("chunk")
		require.NoError(t, err)
		assert.Equal(t, "i-765.pdf", header.Filename)
		gotChunk, err = io.ReadAll(file)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"chunk received","chunkIndex":2}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(nil, server.URL+"/", log.NewLogger())

	ack, err := transport.Send(context.Background(), []byte("compressed!"), testMetadata())
	require.NoError(t, err)

	assert.Equal(t, Ack{Message: "chunk received", ChunkIndex: 2}, ack)
	assert.Equal(t, testMetadata(), gotMeta)
	assert.Equal(t, "compressed!", string(gotChunk))
}

func TestHTTPTransport_MetadataFieldNames(t *testing.T) {
	var raw map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &raw))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewHTTPTransport(nil, server.URL, log.NewLogger()).Send(context.Background(), []byte("x"), testMetadata())
	require.NoError(t, err)

	for _, key := range []string{"jobId", "chunkIndex", "totalChunks", "fileName", "originalSize", "compressedSize"} {
		assert.Contains(t, raw, key)
	}
}

func TestHTTPTransport_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("temporary error"))
			},
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid metadata"}`))
			},
		},
		{
			name: "malformed acknowledgment",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>not json</html>"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requestCount, 1)
				tt.handler(w, r)
			}))
			defer server.Close()

			_, err := NewHTTPTransport(nil, server.URL, log.NewLogger()).Send(context.Background(), []byte("data"), testMetadata())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUploadFailed)
			// no internal retry
			assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		})
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPTransport(nil, url, log.NewLogger()).Send(context.Background(), []byte("data"), testMetadata())
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestHTTPTransport_RejectsInvalidInput(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
	}))
	defer server.Close()

	transport := NewHTTPTransport(nil, server.URL, log.NewLogger())

	_, err := transport.Send(context.Background(), nil, testMetadata())
	assert.ErrorIs(t, err, ErrEmptyChunk)
	assert.ErrorIs(t, err, ErrUploadFailed)

	meta := testMetadata()
	meta.ChunkIndex = 0
	_, err = transport.Send(context.Background(), []byte("x"), meta)
	assert.ErrorIs(t, err, ErrUploadFailed)

	assert.Equal(t, int32(0), atomic.LoadInt32(&requestCount))
}
