package model

import "time"

// Job is the short-lived status record kept for every video job
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Prompt      string     `json:"prompt"`
	ImagePath   string     `json:"imagePath"`
	VideoURL    string     `json:"videoUrl,omitempty"`
	RemoteURL   string     `json:"remoteUrl,omitempty"`
	ErrorKind   ErrorKind  `json:"errorKind,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobRequest is everything the runner needs to execute one worker process.
// FrameCount and FrameRate are forwarded to the worker only when set.
type JobRequest struct {
	JobID      string `json:"jobId"`
	ImagePath  string `json:"imagePath"`
	Prompt     string `json:"prompt"`
	FrameCount *int   `json:"frameCount,omitempty"`
	FrameRate  *int   `json:"frameRate,omitempty"`
}
