package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/i2vstudio/api/internal/client"
	"github.com/i2vstudio/api/internal/model"
	"github.com/i2vstudio/api/internal/runner"
)

const (
	// TaskTypeVideo is the asynq task that runs one queued video job
	TaskTypeVideo = "video:generate"
	// QueueVideo is the asynq queue video tasks are enqueued on
	QueueVideo = "video"
)

// Notifier fans job events out to live observers
type Notifier interface {
	runner.Observer
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// TaskEnqueuer is the part of *asynq.Client the service needs
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// VideoDeps wires a VideoService. Queue and Storage are optional.
type VideoDeps struct {
	Uploads       *UploadService
	Runner        *runner.Runner
	Jobs          JobStore
	Notifier      Notifier
	Queue         TaskEnqueuer
	Storage       client.StorageClient
	StoragePrefix string
	// TaskTimeout bounds a queued task inside asynq; zero leaves it to the runner
	TaskTimeout time.Duration
}

// VideoService turns an uploaded image and a prompt into a generated video
type VideoService struct {
	uploads       *UploadService
	runner        *runner.Runner
	jobs          JobStore
	notifier      Notifier
	queue         TaskEnqueuer
	storage       client.StorageClient
	storagePrefix string
	taskTimeout   time.Duration
}

func NewVideoService(deps VideoDeps) *VideoService {
	return &VideoService{
		uploads:       deps.Uploads,
		runner:        deps.Runner,
		jobs:          deps.Jobs,
		notifier:      deps.Notifier,
		queue:         deps.Queue,
		storage:       deps.Storage,
		storagePrefix: deps.StoragePrefix,
		taskTimeout:   deps.TaskTimeout,
	}
}

// Generate saves the image, runs the worker and waits for its result
func (s *VideoService) Generate(ctx context.Context, req *model.GenerateVideoRequest, file *multipart.FileHeader) (*model.GenerateVideoResponse, error) {
	imagePath, err := s.uploads.SaveImage(file)
	if err != nil {
		return nil, err
	}

	job := newJob(req, imagePath)
	if err := s.saveJob(ctx, job); err != nil {
		log.Printf("Failed to save job %s: %v", job.ID, err)
	}

	result, err := s.Execute(ctx, job, newJobRequest(job.ID, req, imagePath))
	if err != nil {
		return nil, err
	}

	return &model.GenerateVideoResponse{
		VideoURL:  result.VideoURL,
		RemoteURL: job.RemoteURL,
		JobID:     job.ID,
	}, nil
}

// Start saves the image and queues the job for a background worker
func (s *VideoService) Start(ctx context.Context, req *model.GenerateVideoRequest, file *multipart.FileHeader) (*model.VideoStartResponse, error) {
	if s.queue == nil || s.jobs == nil {
		return nil, ErrQueueUnavailable
	}

	imagePath, err := s.uploads.SaveImage(file)
	if err != nil {
		return nil, err
	}

	job := newJob(req, imagePath)
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newVideoTask(newJobRequest(job.ID, req, imagePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueVideo),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Retention(JobTTL),
	}
	if s.taskTimeout > 0 {
		opts = append(opts, asynq.Timeout(s.taskTimeout))
	}

	if _, err := s.queue.EnqueueContext(ctx, task, opts...); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Queued video job %s", job.ID)
	return &model.VideoStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		SocketURL: "/ws/jobs/" + job.ID,
		CreatedAt: job.CreatedAt,
	}, nil
}

// Execute runs an already recorded job to completion, keeping its record and
// observers up to date. Both the synchronous endpoint and the queue worker use it.
func (s *VideoService) Execute(ctx context.Context, job *model.Job, req *model.JobRequest) (*runner.Result, error) {
	t := &jobTracker{service: s, job: job}

	result, err := s.runner.Run(ctx, req, t)
	// record the outcome even when ctx is the reason the job ended
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		t.fail(finalCtx, err)
		return nil, err
	}

	t.complete(finalCtx, result, s.publish(finalCtx, job.ID, result))
	return result, nil
}

// GetStatus returns the current status of a video job
func (s *VideoService) GetStatus(ctx context.Context, jobID string) (*model.VideoStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.VideoStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		ErrorKind:   job.ErrorKind,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the result of a succeeded video job, or a *JobFailedError
// for one that failed
func (s *VideoService) GetResult(ctx context.Context, jobID string) (*model.VideoResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusSucceeded:
	case model.JobStatusFailed:
		failed := &JobFailedError{JobID: job.ID, Kind: job.ErrorKind, Message: FailureMessage(job.ErrorKind)}
		if job.Error != nil {
			failed.Message = *job.Error
		}
		return nil, failed
	default:
		return nil, ErrJobNotCompleted
	}

	resp := &model.VideoResultResponse{
		JobID:     job.ID,
		VideoURL:  job.VideoURL,
		RemoteURL: job.RemoteURL,
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = *job.CompletedAt
	}
	return resp, nil
}

// JobForTask loads the record of a queued job, recreating it from the task
// payload when the record has already expired
func (s *VideoService) JobForTask(ctx context.Context, req *model.JobRequest) *model.Job {
	if s.jobs != nil {
		job, err := s.jobs.Get(ctx, req.JobID)
		if err == nil {
			return job
		}
		if !errors.Is(err, ErrJobNotFound) {
			log.Printf("Failed to load job %s: %v", req.JobID, err)
		}
	}
	return &model.Job{
		ID:        req.JobID,
		Status:    model.JobStatusQueued,
		Prompt:    req.Prompt,
		ImagePath: req.ImagePath,
		CreatedAt: time.Now(),
	}
}

// publish copies the result to object storage when configured. Failures are
// logged; the local URL stays authoritative.
func (s *VideoService) publish(ctx context.Context, jobID string, result *runner.Result) string {
	if s.storage == nil {
		return ""
	}

	f, err := os.Open(result.VideoPath)
	if err != nil {
		log.Printf("Job %s: failed to open result for upload: %v", jobID, err)
		return ""
	}
	defer f.Close()

	ext := filepath.Ext(result.VideoPath)
	if ext == "" {
		ext = ".mp4"
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "video/mp4"
	}

	key := path.Join(s.storagePrefix, jobID+ext)
	url, err := s.storage.Upload(ctx, key, f, contentType)
	if err != nil {
		log.Printf("Job %s: failed to publish video: %v", jobID, err)
		return ""
	}

	log.Printf("Job %s: published video to %s", jobID, url)
	return url
}

func (s *VideoService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	if s.jobs == nil {
		return nil, ErrJobNotFound
	}
	return s.jobs.Get(ctx, jobID)
}

func (s *VideoService) saveJob(ctx context.Context, job *model.Job) error {
	if s.jobs == nil {
		return nil
	}
	return s.jobs.Save(ctx, job)
}

func newJob(req *model.GenerateVideoRequest, imagePath string) *model.Job {
	return &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Prompt:    req.Prompt,
		ImagePath: imagePath,
		CreatedAt: time.Now(),
	}
}

func newJobRequest(jobID string, req *model.GenerateVideoRequest, imagePath string) *model.JobRequest {
	return &model.JobRequest{
		JobID:      jobID,
		ImagePath:  imagePath,
		Prompt:     req.Prompt,
		FrameCount: req.FrameCount,
		FrameRate:  req.FrameRate,
	}
}

func newVideoTask(req *model.JobRequest) (*asynq.Task, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVideo, data), nil
}

// jobTracker mirrors runner events into the job record and the notifier.
// The runner calls it from a single goroutine.
type jobTracker struct {
	service *VideoService
	job     *model.Job
}

func (t *jobTracker) JobStatusChanged(jobID string, status model.JobStatus) {
	t.job.Status = status
	if status == model.JobStatusRunning && t.job.StartedAt == nil {
		now := time.Now()
		t.job.StartedAt = &now
	}
	t.save(context.Background())

	if t.service.notifier != nil {
		t.service.notifier.JobStatusChanged(jobID, status)
	}
}

func (t *jobTracker) JobLine(jobID string, line string) {
	if t.service.notifier != nil {
		t.service.notifier.JobLine(jobID, line)
	}

	progress, ok := runner.ParseProgress(line)
	if !ok || progress == t.job.Progress {
		return
	}
	t.job.Progress = progress
	t.job.CurrentStep = line
	t.save(context.Background())

	if t.service.notifier != nil {
		t.service.notifier.BroadcastProgress(jobID, progress, t.job.Status, line)
	}
}

func (t *jobTracker) complete(ctx context.Context, result *runner.Result, remoteURL string) {
	now := time.Now()
	t.job.Status = model.JobStatusSucceeded
	t.job.Progress = 100
	t.job.VideoURL = result.VideoURL
	t.job.RemoteURL = remoteURL
	t.job.CompletedAt = &now
	t.save(ctx)

	if t.service.notifier != nil {
		t.service.notifier.JobStatusChanged(t.job.ID, model.JobStatusSucceeded)
		t.service.notifier.BroadcastComplete(t.job.ID, &model.VideoResultResponse{
			JobID:       t.job.ID,
			VideoURL:    result.VideoURL,
			RemoteURL:   remoteURL,
			CompletedAt: now,
		})
	}
}

func (t *jobTracker) fail(ctx context.Context, err error) {
	kind := runner.KindOf(err)
	if kind == "" {
		kind = model.ErrorKindWorkerExecution
	}
	msg := FailureMessage(kind)

	now := time.Now()
	t.job.Status = model.JobStatusFailed
	t.job.ErrorKind = kind
	t.job.Error = &msg
	t.job.CompletedAt = &now
	t.save(ctx)

	if t.service.notifier != nil {
		t.service.notifier.JobStatusChanged(t.job.ID, model.JobStatusFailed)
		t.service.notifier.BroadcastError(t.job.ID, string(kind), msg)
	}
}

func (t *jobTracker) save(ctx context.Context) {
	if err := t.service.saveJob(ctx, t.job); err != nil {
		log.Printf("Failed to save job %s: %v", t.job.ID, err)
	}
}
