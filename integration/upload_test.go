//go:build integration
// +build integration

package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/imbuddy/docupload/chunk"
	"github.com/imbuddy/docupload/poll"
	"github.com/imbuddy/docupload/result"
	"github.com/imbuddy/docupload/transport"
	"github.com/imbuddy/docupload/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndWatch(t *testing.T) {
	// Given
	baseURL := apiURL(t)
	testFile := randomFile(t, "integration-test.bin", 12*units.MiB)
	source, err := chunk.OpenFile(testFile)
	require.NoError(t, err)
	defer source.Close() //nolint:errcheck

	logger.EnableDebugLog(true)
	orchestrator, err := upload.New(transport.NewHTTPTransport(nil, baseURL, logger), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// When
	jobID, err := orchestrator.UploadFiles(ctx, []chunk.Source{source})

	// Then
	require.NoError(t, err)
	state := orchestrator.State()
	assert.Equal(t, upload.StatusComplete, state.Status)
	assert.Equal(t, 1, state.Progress.ProcessedFiles)
	assert.Equal(t, 3, state.Progress.TotalChunks)

	// When
	poller := poll.NewPoller(poll.NewClient(nil, baseURL, logger), logger)
	status, err := poller.Watch(ctx, jobID)

	// Then
	require.NoError(t, err)
	assert.True(t, status.Terminal())
	assert.Equal(t, poll.StateSettled, poller.Snapshot().State)

	if status.Status == poll.JobComplete && status.ResultURL != "" {
		dest := filepath.Join(t.TempDir(), "result")
		require.NoError(t, result.NewDownloader(nil, logger).Download(ctx, status.ResultURL, dest))
		assert.FileExists(t, dest)
	}
}
