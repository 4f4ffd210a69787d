package schemas

import "time"

// JobState represents the current state of a job
type JobState string

const (
	JobStatePending           JobState = "pending"
	JobStateValidating        JobState = "validating"
	JobStatePlanning          JobState = "planning"
	JobStateDownloadingInputs JobState = "downloading_inputs"
	JobStateProcessing        JobState = "processing"
	JobStateUploadingOutputs  JobState = "uploading_outputs"
	JobStateCompleted         JobState = "completed"
	JobStateFailed            JobState = "failed"
	JobStateCancelled         JobState = "cancelled"
)

// JobStatus represents real-time job status
type JobStatus struct {
	JobID       string       `json:"job_id"`
	Status      JobState     `json:"status"`
	Progress    *Progress    `json:"progress,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	OutputFiles []OutputFile `json:"output_files,omitempty"`
}

// Progress represents job progress information
type Progress struct {
	OverallPercent float64         `json:"overall_percent"`
	CurrentStep    string          `json:"current_step"`
	FFmpegProgress *FFmpegProgress `json:"ffmpeg_progress,omitempty"`
}

// FFmpegProgress tracks engine progress
type FFmpegProgress struct {
	Frame       int     `json:"frame"`
	FPS         float64 `json:"fps"`
	CurrentTime string  `json:"current_time"`
	TotalTime   string  `json:"total_time"`
	Speed       float64 `json:"speed"`
}

// OutputFile describes a produced composite
type OutputFile struct {
	Destination string `json:"destination"`
	URL         string `json:"url,omitempty"`
	FileSize    int64  `json:"file_size"`

	// Degraded is set when a fallback path produced this file (stills-only,
	// single-source copy)
	Degraded bool `json:"degraded,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	FFmpegStderr   string                 `json:"ffmpeg_stderr,omitempty"`
	FFmpegExitCode int                    `json:"ffmpeg_exit_code,omitempty"`
	Retryable      bool                   `json:"retryable"`
}
