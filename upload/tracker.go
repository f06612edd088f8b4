package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

type uploadTracker struct {
	tracker analytics.Tracker
}

func newUploadTracker(tracker analytics.Tracker) uploadTracker {
	return uploadTracker{tracker: tracker}
}

func (t uploadTracker) logFileUploaded(jobID, fileName string, stats *fileStats) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"job_id":                jobID,
		"file_name":             fileName,
		"upload_time_s":         stats.elapsed().Truncate(time.Millisecond).Seconds(),
		"chunk_count":           stats.chunks,
		"original_size_bytes":   stats.originalBytes,
		"compressed_size_bytes": stats.compressedBytes,
		"compression_ratio":     stats.compressionRatio(),
	}
	t.tracker.Enqueue("docupload_file_uploaded", properties)
}

func (t uploadTracker) logBatchFinished(state JobState) {
	if t.tracker == nil {
		return
	}
	properties := analytics.Properties{
		"job_id":          state.JobID,
		"status":          string(state.Status),
		"total_files":     state.Progress.TotalFiles,
		"processed_files": state.Progress.ProcessedFiles,
	}
	if state.Error != "" {
		properties["error"] = state.Error
	}
	t.tracker.Enqueue("docupload_batch_finished", properties)
}

func (t uploadTracker) wait() {
	if t.tracker != nil {
		t.tracker.Wait()
	}
}
