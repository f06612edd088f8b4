package upload

// Status is the lifecycle of a batch upload.
type Status string

// Batch statuses.
const (
	StatusIdle     Status = "idle"
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Progress is a snapshot of a running batch.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	CurrentFile    string
	CurrentChunk   int
	TotalChunks    int
	// CompressionRatio is 1 - compressed/original over the chunks of the
	// current file sent so far. Negative when compression grew the data.
	CompressionRatio float64
	// UploadSpeed is the compressed throughput of the current file in KB/s.
	UploadSpeed float64
}

// JobState describes one upload attempt. It is only ever replaced as a whole.
type JobState struct {
	Status   Status
	JobID    string
	Progress Progress
	// Error holds the last failure message until the next batch starts.
	Error string
}

func idleState() JobState {
	return JobState{Status: StatusIdle}
}
