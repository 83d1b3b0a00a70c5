package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/i2vstudio/api/internal/config"
	"github.com/i2vstudio/api/internal/model"
	"github.com/i2vstudio/api/internal/runner"
)

// pngHeader is enough of a PNG for content sniffing
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// newFileHeader round-trips content through a multipart form the way fiber does
func newFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	partHeader.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	_, _ = part.Write(content)
	writer.Close()

	form, err := multipart.NewReader(&buf, writer.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("failed to read form: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["image"][0]
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type recordingNotifier struct {
	mu        sync.Mutex
	statuses  []model.JobStatus
	lines     []string
	progress  []int
	completed []interface{}
	errors    []string
}

func (n *recordingNotifier) JobStatusChanged(jobID string, status model.JobStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) JobLine(jobID string, line string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lines = append(n.lines, line)
}

func (n *recordingNotifier) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, progress)
}

func (n *recordingNotifier) BroadcastComplete(jobID string, result interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
}

func (n *recordingNotifier) BroadcastError(jobID string, code, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, code)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueVideo}, nil
}

type fakeStorage struct {
	mu   sync.Mutex
	keys []string
	body []byte
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.body = data
	return s.GetPublicURL(key), nil
}

func (s *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type testEnv struct {
	service  *VideoService
	store    *RedisJobStore
	notifier *recordingNotifier
	queue    *fakeEnqueuer
	storage  *fakeStorage
	uploads  string
}

// newTestEnv builds a VideoService whose worker is the given shell script.
// The script sees the uploads directory as $UPLOADS.
func newTestEnv(t *testing.T, script string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		t.Fatalf("failed to create uploads dir: %v", err)
	}
	scriptPath := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write worker script: %v", err)
	}

	_, rdb := newRedis(t)
	store := NewRedisJobStore(rdb)
	notifier := &recordingNotifier{}
	queue := &fakeEnqueuer{}
	storage := &fakeStorage{}

	r := runner.NewRunner(config.WorkerConfig{
		Interpreter:       "/bin/sh",
		Script:            scriptPath,
		Env:               []string{"UPLOADS=" + uploads},
		Timeout:           10 * time.Second,
		KillGrace:         100 * time.Millisecond,
		MaxConcurrent:     1,
		DefaultFrameCount: 16,
	}, runner.ResultLocator{UploadsDir: uploads, Mount: "/uploads", VerifyExists: true})

	svc := NewVideoService(VideoDeps{
		Uploads:       NewUploadService(config.UploadsConfig{Dir: uploads, Mount: "/uploads", MaxSizeMB: 1}),
		Runner:        r,
		Jobs:          store,
		Notifier:      notifier,
		Queue:         queue,
		Storage:       storage,
		StoragePrefix: "videos",
	})

	return &testEnv{
		service:  svc,
		store:    store,
		notifier: notifier,
		queue:    queue,
		storage:  storage,
		uploads:  uploads,
	}
}
