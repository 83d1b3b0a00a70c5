package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/i2vstudio/api/internal/model"
	"github.com/i2vstudio/api/internal/service"
)

// VideoWorker processes queued video jobs
type VideoWorker struct {
	videoService *service.VideoService
	inflight     sync.WaitGroup
}

// NewVideoWorker creates a new video worker
func NewVideoWorker(videoService *service.VideoService) *VideoWorker {
	return &VideoWorker{
		videoService: videoService,
	}
}

// ProcessTask runs one video job. Failed jobs are not retried.
func (w *VideoWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req model.JobRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if req.JobID == "" || req.ImagePath == "" {
		return fmt.Errorf("incomplete task payload: %w", asynq.SkipRetry)
	}

	w.inflight.Add(1)
	defer w.inflight.Done()

	log.Printf("Starting video job: %s", req.JobID)

	job := w.videoService.JobForTask(ctx, &req)
	if _, err := w.videoService.Execute(ctx, job, &req); err != nil {
		return fmt.Errorf("video job %s: %v: %w", req.JobID, err, asynq.SkipRetry)
	}

	log.Printf("Video job %s completed", req.JobID)
	return nil
}

// Wait blocks until every task being processed has returned or ctx is done.
// asynq stops waiting for a handler as soon as its context is canceled, so
// shutdown calls this to let interrupted jobs reap their worker and record
// the outcome.
func (w *VideoWorker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
