package models

import "time"

// JobStatus represents the current state of a separation job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusExtracting  JobStatus = "extracting"
	StatusSeparating  JobStatus = "separating"
	StatusPackaging   JobStatus = "packaging"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// SourceType says where a job's input came from.
type SourceType string

const (
	SourceURL    SourceType = "url"
	SourceUpload SourceType = "upload"
)

// Job stores metadata and runtime state for one separation request.
type Job struct {
	ID           string     `json:"id"`
	SourceType   SourceType `json:"source_type"`
	SourceRef    string     `json:"source_ref"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStage string     `json:"current_stage"`
	Error        string     `json:"error,omitempty"`
	OutputPath   string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition enforces the allowed edges of the job state machine.
// Self-transitions on non-terminal states carry progress updates.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusExtracting || to == StatusFailed
	case StatusDownloading, StatusExtracting:
		return to == StatusSeparating || to == StatusFailed
	case StatusSeparating:
		return to == StatusPackaging || to == StatusFailed
	case StatusPackaging:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// StageLabel returns the display label shown alongside a status.
func StageLabel(s JobStatus) string {
	switch s {
	case StatusPending:
		return "waiting for a worker"
	case StatusDownloading:
		return "downloading audio"
	case StatusExtracting:
		return "extracting audio track"
	case StatusSeparating:
		return "separating stems"
	case StatusPackaging:
		return "packaging stems"
	case StatusCompleted:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return string(s)
	}
}

// ProgressEvent is sent to clients over WebSocket.
type ProgressEvent struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	StreamURL   string    `json:"stream_url,omitempty"`
	Error       string    `json:"error,omitempty"`
}
