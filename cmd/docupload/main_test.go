package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/imbuddy/docupload/chunk"
	"github.com/imbuddy/docupload/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvRepo map[string]string

func (r fakeEnvRepo) Get(key string) string       { return r[key] }
func (r fakeEnvRepo) Set(key, value string) error { r[key] = value; return nil }
func (r fakeEnvRepo) Unset(key string) error      { delete(r, key); return nil }
func (r fakeEnvRepo) List() []string              { return nil }

// fakeAPI serves the chunk, status and result endpoints.
type fakeAPI struct {
	mu          sync.Mutex
	chunks      []chunk.Metadata
	statusCalls int
	statuses    []string
}

func (a *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload-chunk", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		var meta chunk.Metadata
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))

		a.mu.Lock()
		a.chunks = append(a.chunks, meta)
		a.mu.Unlock()

		_, _ = fmt.Fprintf(w, `{"message":"ok","chunkIndex":%d}`, meta.ChunkIndex)
	})
	mux.HandleFunc("/api/upload/", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		status := a.statuses[min(a.statusCalls, len(a.statuses)-1)]
		a.statusCalls++
		a.mu.Unlock()

		resultURL := "http://" + r.Host + "/results/" + strings.TrimPrefix(r.URL.Path, "/api/upload/")
		_, _ = fmt.Fprintf(w, `{"status":%q,"result_url":%q,"message":"conversion failed"}`, status, resultURL)
	})
	mux.HandleFunc("/results/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"pages":3}`)
	})
	return mux
}

func testEnv(serverURL string) fakeEnvRepo {
	return fakeEnvRepo{
		config.APIURLKey:       serverURL,
		config.ChunkSizeKey:    "4KiB",
		config.PollIntervalKey: "10ms",
	}
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-out", "r.json", "a.pdf", "b.pdf"})
	require.NoError(t, err)
	assert.Equal(t, options{watch: true, out: "r.json", paths: []string{"a.pdf", "b.pdf"}}, opts)

	opts, err = parseArgs([]string{"a.pdf"})
	require.NoError(t, err)
	assert.False(t, opts.watch)

	_, err = parseArgs([]string{"-watch"})
	require.EqualError(t, err, "no files given")
}

func TestRun_UploadWatchAndDownload(t *testing.T) {
	api := &fakeAPI{statuses: []string{"pending", "complete"}}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.pdf"), []byte(strings.Repeat("x", 10*1024)), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.pdf"), []byte("tiny"), 0644))
	out := filepath.Join(dir, "out", "result.json")

	err := run(context.Background(), []string{"-out", out, filepath.Join(dir, "*.pdf")}, testEnv(server.URL), log.NewLogger())

	require.NoError(t, err)

	require.Len(t, api.chunks, 4)
	jobID := api.chunks[0].JobID
	assert.NotEmpty(t, jobID)
	for i, want := range []struct {
		file  string
		index int
		total int
	}{{"big.pdf", 1, 3}, {"big.pdf", 2, 3}, {"big.pdf", 3, 3}, {"small.pdf", 1, 1}} {
		assert.Equal(t, jobID, api.chunks[i].JobID)
		assert.Equal(t, want.file, api.chunks[i].FileName)
		assert.Equal(t, want.index, api.chunks[i].ChunkIndex)
		assert.Equal(t, want.total, api.chunks[i].TotalChunks)
	}
	assert.Equal(t, 2, api.statusCalls)

	downloaded, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `{"pages":3}`, string(downloaded))
}

func TestRun_UploadOnly(t *testing.T) {
	api := &fakeAPI{statuses: []string{"complete"}}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	err := run(context.Background(), []string{path}, testEnv(server.URL), log.NewLogger())

	require.NoError(t, err)
	assert.Len(t, api.chunks, 1)
	assert.Equal(t, 0, api.statusCalls)
}

func TestRun_JobFailed(t *testing.T) {
	api := &fakeAPI{statuses: []string{"error"}}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	err := run(context.Background(), []string{"-watch", path}, testEnv(server.URL), log.NewLogger())

	require.ErrorIs(t, err, errJobFailed)
	assert.ErrorContains(t, err, "conversion failed")
}

func TestRun_NoFiles(t *testing.T) {
	err := run(context.Background(), []string{filepath.Join(t.TempDir(), "*.pdf")}, testEnv("http://localhost:1"), log.NewLogger())

	require.EqualError(t, err, "no files to upload")
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"a.pdf"}, fakeEnvRepo{}, log.NewLogger())

	require.ErrorContains(t, err, "failed to read configuration")
}
