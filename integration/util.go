//go:build integration
// +build integration

package integration

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func apiURL(t *testing.T) string {
	url := os.Getenv("DOCUPLOAD_API_URL")
	if url == "" {
		t.Skip("DOCUPLOAD_API_URL is not set")
	}
	return url
}

// randomFile writes size random bytes to a new file in a temp dir.
func randomFile(t *testing.T, name string, size int) string {
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf(err.Error())
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf(err.Error())
	}
	return path
}
