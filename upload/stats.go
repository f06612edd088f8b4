package upload

import (
	"time"

	"github.com/benbjohnson/clock"
)

// fileStats keeps the running totals of one file upload.
// Ratio and speed are derived from the totals every time, never updated incrementally.
type fileStats struct {
	clock           clock.Clock
	start           time.Time
	chunks          int
	originalBytes   int64
	compressedBytes int64
}

func newFileStats(c clock.Clock) *fileStats {
	return &fileStats{clock: c, start: c.Now()}
}

func (s *fileStats) update(originalSize, compressedSize int) {
	s.chunks++
	s.originalBytes += int64(originalSize)
	s.compressedBytes += int64(compressedSize)
}

func (s *fileStats) compressionRatio() float64 {
	return compressionRatio(s.originalBytes, s.compressedBytes)
}

// uploadSpeed returns KB/s since the file upload began.
func (s *fileStats) uploadSpeed() float64 {
	return uploadSpeed(s.compressedBytes, s.clock.Since(s.start))
}

func (s *fileStats) elapsed() time.Duration {
	return s.clock.Since(s.start)
}

func compressionRatio(original, compressed int64) float64 {
	if original == 0 {
		return 0
	}
	return 1 - float64(compressed)/float64(original)
}

func uploadSpeed(compressed int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(compressed) / elapsed.Seconds() / 1024
}
