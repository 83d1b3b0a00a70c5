package model

import "time"

// GenerateVideoRequest holds the text fields of a multipart generate request
type GenerateVideoRequest struct {
	Prompt     string `validate:"required,max=2000"`
	FrameCount *int   `validate:"omitempty,min=1,max=256"`
	FrameRate  *int   `validate:"omitempty,min=1,max=60"`
}

// GenerateVideoResponse is returned by the synchronous endpoint
type GenerateVideoResponse struct {
	VideoURL  string `json:"videoUrl"`
	RemoteURL string `json:"remoteUrl,omitempty"`
	JobID     string `json:"jobId"`
}

// VideoStartResponse is returned when a job is queued
type VideoStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	SocketURL string    `json:"socketUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// VideoStatusResponse represents the status of a video job
type VideoStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	ErrorKind   ErrorKind  `json:"errorKind,omitempty"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// VideoResultResponse represents the result of a completed job
type VideoResultResponse struct {
	JobID       string    `json:"jobId"`
	VideoURL    string    `json:"videoUrl"`
	RemoteURL   string    `json:"remoteUrl,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}
