package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/i2vstudio/api/internal/config"
	"github.com/i2vstudio/api/internal/model"
)

const (
	maxLineSize    = 1024 * 1024
	stderrTailSize = 20
)

// outputDrainGrace is how long output is still read after the worker exits
var outputDrainGrace = 2 * time.Second

// Observer receives a job's state transitions and output lines as they happen.
// Calls for one job are made from a single goroutine, in order.
type Observer interface {
	JobStatusChanged(jobID string, status model.JobStatus)
	JobLine(jobID string, line string)
}

// Result is the outcome of a successful run
type Result struct {
	JobID     string
	VideoURL  string
	VideoPath string
	Lines     []string
	Duration  time.Duration
}

// Runner launches the external generator once per job and relays its output
type Runner struct {
	cfg     config.WorkerConfig
	locator ResultLocator
	slots   *semaphore.Weighted
}

// NewRunner creates a runner that allows cfg.MaxConcurrent workers at a time
func NewRunner(cfg config.WorkerConfig, locator ResultLocator) *Runner {
	slots := cfg.MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	return &Runner{
		cfg:     cfg,
		locator: locator,
		slots:   semaphore.NewWeighted(int64(slots)),
	}
}

// StopGrace is the longest a running job takes to end once its context is
// canceled
func (r *Runner) StopGrace() time.Duration {
	return r.cfg.KillGrace + outputDrainGrace
}

// Args builds the worker's positional arguments. Trailing frame arguments are
// optional; a frame rate without a frame count sends the default count first
// so argument positions stay fixed.
func (r *Runner) Args(req *model.JobRequest) []string {
	args := append([]string{}, r.cfg.InterpreterArgs...)
	args = append(args, r.cfg.Script, req.ImagePath, req.Prompt)

	frameCount := req.FrameCount
	if frameCount == nil && req.FrameRate != nil {
		def := r.cfg.DefaultFrameCount
		frameCount = &def
	}
	if frameCount != nil {
		args = append(args, strconv.Itoa(*frameCount))
	}
	if req.FrameRate != nil {
		args = append(args, strconv.Itoa(*req.FrameRate))
	}
	return args
}

// Run executes one job and blocks until the worker exits.
// The job fails with a *JobError on timeout, cancellation, non-zero exit,
// or when the output carries no usable result line.
func (r *Runner) Run(ctx context.Context, req *model.JobRequest, obs Observer) (*Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}

	obs.JobStatusChanged(req.JobID, model.JobStatusQueued)
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, r.contextError(req.JobID, ctx, err)
	}
	defer r.slots.Release(1)

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	obs.JobStatusChanged(req.JobID, model.JobStatusSpawning)
	started := time.Now()

	cmd := exec.CommandContext(runCtx, r.cfg.Interpreter, r.Args(req)...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, r.cfg.Env...)
	configureProcess(cmd)
	cmd.Cancel = func() error {
		return interruptProcess(cmd)
	}

	// the pipes are ours so reading can stop independently of the worker's exit
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &JobError{JobID: req.JobID, Kind: model.ErrorKindWorkerExecution, Err: err}
	}
	defer stdout.Close()
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdoutW.Close()
		return nil, &JobError{JobID: req.JobID, Kind: model.ErrorKindWorkerExecution, Err: err}
	}
	defer stderr.Close()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		log.Printf("Job %s: failed to start worker: %v", req.JobID, err)
		return nil, &JobError{JobID: req.JobID, Kind: model.ErrorKindWorkerExecution, Err: err}
	}
	log.Printf("Job %s: worker started (pid %d)", req.JobID, cmd.Process.Pid)
	obs.JobStatusChanged(req.JobID, model.JobStatusRunning)

	linesCh := make(chan []string, 1)
	go func() {
		linesCh <- r.relay(req.JobID, stdout, obs)
	}()
	tailCh := make(chan []string, 1)
	go func() {
		tailCh <- collectTail(stderr, stderrTailSize)
	}()

	exited := make(chan struct{})
	go r.escalate(runCtx, cmd, exited)

	waitErr := cmd.Wait()
	close(exited)
	// decided at exit: the drain below must not turn a finished job into a timeout
	ctxErr := runCtx.Err()
	elapsed := time.Since(started)

	lines, tail := r.drain(cmd, linesCh, tailCh, stdout, stderr)

	if ctxErr != nil {
		jobErr := r.contextError(req.JobID, runCtx, ctxErr)
		jobErr.StderrTail = tail
		log.Printf("Job %s: worker stopped after %s: %v", req.JobID, elapsed.Round(time.Millisecond), jobErr)
		return nil, jobErr
	}

	if waitErr != nil {
		jobErr := &JobError{JobID: req.JobID, Kind: model.ErrorKindWorkerExecution, StderrTail: tail, Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			jobErr.ExitCode = exitErr.ExitCode()
		}
		log.Printf("Job %s: worker failed: %v; stderr tail: %q", req.JobID, jobErr, tail)
		return nil, jobErr
	}

	reported, ok := ExtractResultPath(lines)
	if !ok {
		log.Printf("Job %s: video path not found in worker output (%d lines)", req.JobID, len(lines))
		return nil, &JobError{JobID: req.JobID, Kind: model.ErrorKindResultNotFound, StderrTail: tail}
	}

	videoURL, videoPath, err := r.locator.Resolve(reported)
	if err != nil {
		log.Printf("Job %s: unusable result path %q: %v", req.JobID, reported, err)
		return nil, &JobError{JobID: req.JobID, Kind: model.ErrorKindResultNotFound, Err: err}
	}

	log.Printf("Job %s: completed in %s, video %s", req.JobID, elapsed.Round(time.Millisecond), videoURL)
	return &Result{
		JobID:     req.JobID,
		VideoURL:  videoURL,
		VideoPath: videoPath,
		Lines:     lines,
		Duration:  elapsed,
	}, nil
}

// relay reads stdout line by line, buffering each line and handing it to the
// observer before reading the next one
func (r *Runner) relay(jobID string, stdout io.Reader, obs Observer) []string {
	var lines []string
	err := readLines(stdout, func(line string) {
		lines = append(lines, line)
		obs.JobLine(jobID, line)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		log.Printf("Job %s: stopped reading worker output: %v", jobID, err)
	}
	return lines
}

// drain collects what the readers buffered once the worker has exited. Output
// still held open by leftover children after outputDrainGrace is cut off and
// those children are killed.
func (r *Runner) drain(cmd *exec.Cmd, linesCh, tailCh <-chan []string, pipes ...io.Closer) ([]string, []string) {
	timer := time.NewTimer(outputDrainGrace)
	defer timer.Stop()

	var (
		lines, tail       []string
		gotLines, gotTail bool
	)
	for !gotLines || !gotTail {
		select {
		case lines = <-linesCh:
			gotLines = true
		case tail = <-tailCh:
			gotTail = true
		case <-timer.C:
			log.Printf("Worker pid %d exited but its output is still open, closing", cmd.Process.Pid)
			// the group may already be gone
			_ = killProcess(cmd)
			for _, p := range pipes {
				_ = p.Close()
			}
			// readers return promptly on a closed pipe
			timer.Reset(time.Hour)
		}
	}
	return lines, tail
}

// escalate kills the worker's process group when it ignores the interrupt sent
// on cancellation
func (r *Runner) escalate(ctx context.Context, cmd *exec.Cmd, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(r.cfg.KillGrace)
	defer timer.Stop()
	select {
	case <-exited:
		return
	case <-timer.C:
	}

	log.Printf("Worker pid %d ignored interrupt for %s, killing", cmd.Process.Pid, r.cfg.KillGrace)
	if err := killProcess(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("Failed to kill worker pid %d: %v", cmd.Process.Pid, err)
	}
}

func (r *Runner) contextError(jobID string, ctx context.Context, err error) *JobError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &JobError{JobID: jobID, Kind: model.ErrorKindTimeout, Err: fmt.Errorf("no result within %s", r.cfg.Timeout)}
	}
	return &JobError{JobID: jobID, Kind: model.ErrorKindCanceled, Err: err}
}

func collectTail(rd io.Reader, n int) []string {
	tail := make([]string, 0, n)
	_ = readLines(rd, func(line string) {
		if len(tail) == n {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, line)
	})
	return tail
}

// readLines calls fn for every line of rd. Lines longer than maxLineSize are
// truncated and reading continues with the next line.
func readLines(rd io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	buf := make([]byte, 0, 1024)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if room := maxLineSize - len(buf); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			if len(buf) > 0 {
				fn(string(buf))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if isPrefix {
			continue
		}
		fn(string(buf))
		buf = buf[:0]
	}
}

type nopObserver struct{}

func (nopObserver) JobStatusChanged(string, model.JobStatus) {}
func (nopObserver) JobLine(string, string)                   {}
