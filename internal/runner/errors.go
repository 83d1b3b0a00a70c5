package runner

import (
	"errors"
	"fmt"

	"github.com/i2vstudio/api/internal/model"
)

var (
	ErrWorkerExecution = errors.New("worker execution failed")
	ErrResultNotFound  = errors.New("result not found in worker output")
	ErrTimeout         = errors.New("worker timed out")
	ErrCanceled        = errors.New("job canceled")
)

// JobError describes a failed job. It unwraps to one of the sentinel errors
// above so callers can classify it with errors.Is.
type JobError struct {
	JobID      string
	Kind       model.ErrorKind
	ExitCode   int
	StderrTail []string
	Err        error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("job %s: %s", e.JobID, kindError(e.Kind))
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *JobError) Unwrap() []error {
	if e.Err == nil {
		return []error{kindError(e.Kind)}
	}
	return []error{kindError(e.Kind), e.Err}
}

func kindError(kind model.ErrorKind) error {
	switch kind {
	case model.ErrorKindResultNotFound:
		return ErrResultNotFound
	case model.ErrorKindTimeout:
		return ErrTimeout
	case model.ErrorKindCanceled:
		return ErrCanceled
	default:
		return ErrWorkerExecution
	}
}

// KindOf returns the failure kind carried by err, or "" when err is not a job failure
func KindOf(err error) model.ErrorKind {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return ""
}
