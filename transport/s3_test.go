package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/imbuddy/docupload/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		meta   chunk.Metadata
		ext    string
		want   string
	}{
		{
			name:   "with prefix",
			prefix: "uploads",
			meta:   chunk.Metadata{JobID: "job-1", FileName: "n-400.pdf", ChunkIndex: 1, TotalChunks: 3},
			ext:    ".gz",
			want:   "uploads/job-1/n-400.pdf/chunk-0001-of-0003.gz",
		},
		{
			name: "no prefix, no job",
			meta: chunk.Metadata{FileName: "n-400.pdf", ChunkIndex: 12, TotalChunks: 12},
			ext:  ".zst",
			want: "unassigned/n-400.pdf/chunk-0012-of-0012.zst",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, tt.meta, tt.ext))
		})
	}
}

func newTestS3Client(url string) *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String(url),
		UsePathStyle: true,
	})
}

func TestS3Transport_Send(t *testing.T) {
	var gotPath, gotJobID, gotEncoding string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotJobID = r.Header.Get("X-Amz-Meta-Job-Id")
		gotEncoding = r.Header.Get("Content-Encoding")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body

		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewS3TransportWithClient(newTestS3Client(server.URL), S3Params{
		Bucket:          "documents",
		Prefix:          "uploads",
		Extension:       ".gz",
		ContentEncoding: "gzip",
	}, log.NewLogger())

	meta := chunk.Metadata{JobID: "job-1", FileName: "n-400.pdf", ChunkIndex: 1, TotalChunks: 2, OriginalSize: 10, CompressedSize: 4}
	ack, err := transport.Send(context.Background(), []byte("abcd"), meta)
	require.NoError(t, err)

	assert.Equal(t, 1, ack.ChunkIndex)
	assert.Equal(t, "/documents/uploads/job-1/n-400.pdf/chunk-0001-of-0002.gz", gotPath)
	assert.Equal(t, "job-1", gotJobID)
	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, "abcd", string(gotBody))
}

func TestS3Transport_APIError(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))
	defer server.Close()

	transport := NewS3TransportWithClient(newTestS3Client(server.URL), S3Params{Bucket: "documents"}, log.NewLogger())

	meta := chunk.Metadata{JobID: "job-1", FileName: "n-400.pdf", ChunkIndex: 1, TotalChunks: 1}
	_, err := transport.Send(context.Background(), []byte("abcd"), meta)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Equal(t, 1, requestCount)
}

func TestNewS3Transport_Validation(t *testing.T) {
	_, err := NewS3Transport(context.Background(), S3Params{Region: "us-east-1"}, log.NewLogger())
	assert.Error(t, err)

	_, err = NewS3Transport(context.Background(), S3Params{Bucket: "documents"}, log.NewLogger())
	assert.Error(t, err)
}
