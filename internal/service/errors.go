package service

import (
	"errors"
	"fmt"

	"github.com/i2vstudio/api/internal/model"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotCompleted  = errors.New("job not completed")
	ErrJobFailed        = errors.New("job failed")
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// RequestError is an ErrInvalidRequest whose message is safe to show to the client
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// JobFailedError is returned for the result of a job that ended in failure
type JobFailedError struct {
	JobID   string
	Kind    model.ErrorKind
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed (%s): %s", e.JobID, e.Kind, e.Message)
}

func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

func invalidRequest(format string, args ...interface{}) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// FailureMessage is the client-facing text for a failed job. Details stay in the server log.
func FailureMessage(kind model.ErrorKind) string {
	switch kind {
	case model.ErrorKindResultNotFound:
		return "Failed to generate video"
	case model.ErrorKindTimeout:
		return "Video generation timed out"
	case model.ErrorKindCanceled:
		return "Video generation was canceled"
	default:
		return "An error occurred while generating the video"
	}
}
