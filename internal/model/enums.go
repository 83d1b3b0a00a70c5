package model

// JobStatus is the lifecycle state of a video job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusSpawning  JobStatus = "spawning"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ErrorKind classifies why a job failed
type ErrorKind string

const (
	ErrorKindInvalidRequest  ErrorKind = "INVALID_REQUEST"
	ErrorKindWorkerExecution ErrorKind = "WORKER_EXECUTION_ERROR"
	ErrorKindResultNotFound  ErrorKind = "RESULT_NOT_FOUND"
	ErrorKindTimeout         ErrorKind = "TIMEOUT"
	ErrorKindCanceled        ErrorKind = "CANCELED"
)
