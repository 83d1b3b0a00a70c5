package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/i2vstudio/api/internal/config"
	"github.com/i2vstudio/api/internal/runner"
	"github.com/i2vstudio/api/internal/server"
	"github.com/i2vstudio/api/internal/service"
	ws "github.com/i2vstudio/api/internal/websocket"
	"github.com/i2vstudio/api/internal/worker"
)

// pngHeader is enough of a PNG for content sniffing
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	hub     *ws.Hub
	store   *service.RedisJobStore
	uploads string
}

type appOptions struct {
	timeout   time.Duration
	rateLimit int
}

// inlineQueue hands tasks straight to the video worker instead of a Redis-backed queue
type inlineQueue struct {
	worker *worker.VideoWorker
}

func (q *inlineQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	go func() {
		_ = q.worker.ProcessTask(context.Background(), task)
	}()
	return &asynq.TaskInfo{Type: task.Type(), Queue: service.QueueVideo}, nil
}

// setupApp creates the app the way main.go does, with script standing in for
// the generator. The script sees the uploads directory as $UPLOADS.
func setupApp(t *testing.T, script string, opts ...appOptions) *testApp {
	t.Helper()

	opt := appOptions{timeout: 10 * time.Second}
	if len(opts) > 0 {
		opt = opts[0]
	}

	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		t.Fatalf("failed to create uploads dir: %v", err)
	}
	scriptPath := filepath.Join(dir, "videoGenerator.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write worker script: %v", err)
	}

	cfg := &config.Config{
		Server:  config.ServerConfig{PublicDir: "../web/public"},
		Uploads: config.UploadsConfig{Dir: uploads, Mount: "/uploads", MaxSizeMB: 5},
		Worker: config.WorkerConfig{
			Interpreter:       "/bin/sh",
			Script:            scriptPath,
			Env:               []string{"UPLOADS=" + uploads},
			Timeout:           opt.timeout,
			KillGrace:         200 * time.Millisecond,
			MaxConcurrent:     1,
			DefaultFrameCount: 16,
		},
		RateLimit: config.RateLimitConfig{GeneratePerHour: opt.rateLimit},
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)

	store := service.NewRedisJobStore(redisClient)
	queue := &inlineQueue{}
	videoService := service.NewVideoService(service.VideoDeps{
		Uploads: service.NewUploadService(cfg.Uploads),
		Runner: runner.NewRunner(cfg.Worker, runner.ResultLocator{
			UploadsDir: uploads,
			Mount:      cfg.Uploads.Mount,
		}),
		Jobs:     store,
		Notifier: hub,
		Queue:    queue,
	})
	queue.worker = worker.NewVideoWorker(videoService)

	app := server.New(server.Deps{
		Config: cfg,
		Redis:  redisClient,
		Hub:    hub,
		Video:  videoService,
		JobCtx: ctx,
	})

	return &testApp{app: app, hub: hub, store: store, uploads: uploads}
}

// listen serves the app on a loopback port, for tests that need real sockets
func (ta *testApp) listen(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.ShutdownWithTimeout(time.Second) })

	return ln.Addr().String()
}

// newVideoRequest builds a multipart/form-data request. A nil image leaves the file part out.
func newVideoRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}

	if image != nil {
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Disposition", `form-data; name="image"; filename="cat.png"`)
		partHeader.Set("Content-Type", "image/png")
		part, err := writer.CreatePart(partHeader)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(image)
	}

	writer.Close()

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
