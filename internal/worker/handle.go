package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/internal/workspace"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// ErrHandleUsed is returned when Launch is called twice on one Handle.
var ErrHandleUsed = errors.New("worker handle already launched")

const (
	// DefaultKillGrace is how long a worker has to exit after SIGTERM.
	DefaultKillGrace = 5 * time.Second
	// DefaultProgressInterval throttles progress writes to the state store.
	DefaultProgressInterval = 200 * time.Millisecond
	// DefaultOutputDrain is how long output is still read after the worker
	// exits while a descendant keeps its stdout or stderr open.
	DefaultOutputDrain = time.Second
)

// Assignment is the only information a worker receives. It names the
// worker's own task and nothing about the rest of the run.
type Assignment struct {
	RunID       string
	SessionID   string
	TaskName    string
	Instruction string
	Input       map[string]any
	Attempt     int
	Timeout     time.Duration
	Workspace   string
}

// Result is the outcome of one worker session.
type Result struct {
	models.WorkerSession
	OutputBytes int64
}

// Handle runs exactly one worker process.
type Handle struct {
	executor         Executor
	killGrace        time.Duration
	marker           string
	captureLimit     int
	progressInterval time.Duration
	outputDrain      time.Duration
	flags            []string
	env              []string
	logger           *zap.Logger

	launched atomic.Bool
}

// Option configures a Handle.
type Option func(*Handle)

// WithKillGrace sets the SIGTERM to SIGKILL grace period.
func WithKillGrace(d time.Duration) Option {
	return func(h *Handle) { h.killGrace = d }
}

// WithCompletionMarker requires the marker to appear in the output of a
// successful session. An empty marker accepts any zero exit.
func WithCompletionMarker(marker string) Option {
	return func(h *Handle) { h.marker = marker }
}

// WithCaptureLimit bounds the output retained in the Result.
func WithCaptureLimit(n int) Option {
	return func(h *Handle) { h.captureLimit = n }
}

// WithProgressInterval sets the minimum gap between progress writes.
func WithProgressInterval(d time.Duration) Option {
	return func(h *Handle) { h.progressInterval = d }
}

// WithOutputDrain bounds how long output is read after the worker exits.
func WithOutputDrain(d time.Duration) Option {
	return func(h *Handle) { h.outputDrain = d }
}

// WithFlags adds executor flags for this session.
func WithFlags(flags ...string) Option {
	return func(h *Handle) { h.flags = append(h.flags, flags...) }
}

// WithEnv adds KEY=VALUE pairs to the worker environment.
func WithEnv(env ...string) Option {
	return func(h *Handle) { h.env = append(h.env, env...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handle) { h.logger = logger }
}

// NewHandle creates a single-use handle around executor.
func NewHandle(executor Executor, opts ...Option) *Handle {
	h := &Handle{
		executor:         executor,
		killGrace:        DefaultKillGrace,
		captureLimit:     DefaultCaptureLimit,
		progressInterval: DefaultProgressInterval,
		outputDrain:      DefaultOutputDrain,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Launch runs the worker to completion and reports the outcome. It never
// returns an error: failures to start are reported as infrastructure
// failures on the Result. Cancelling ctx terminates the worker.
func (h *Handle) Launch(ctx context.Context, a Assignment, rec state.RecordWriter) *Result {
	res := &Result{WorkerSession: models.WorkerSession{
		RunID:     a.RunID,
		TaskName:  a.TaskName,
		Attempt:   a.Attempt,
		Status:    models.TaskStatusStarting,
		StartedAt: time.Now().UTC(),
		Workspace: a.Workspace,
	}}
	log := h.logger.With(
		zap.String("task", a.TaskName),
		zap.Int("attempt", a.Attempt),
		zap.String("session", a.SessionID),
	)

	if !h.launched.CompareAndSwap(false, true) {
		return h.infrastructureFailure(res, rec, ErrHandleUsed, log)
	}
	h.setStatus(rec, models.TaskStatusStarting, "", log)

	cmd, err := h.executor.Command(Invocation{
		Instruction: a.Instruction,
		Workspace:   a.Workspace,
		Flags:       h.flags,
	})
	if err != nil {
		return h.infrastructureFailure(res, rec, fmt.Errorf("build command: %w", err), log)
	}
	cmd.Dir = a.Workspace
	cmd.Env = append(append(os.Environ(), cmd.Env...), h.env...)
	cmd.Env = append(cmd.Env,
		"CCC_SESSION_ID="+a.SessionID,
		"CCC_WORKSPACE="+a.Workspace,
		"CCC_TASK="+a.TaskName,
		"CCC_ATTEMPT="+strconv.Itoa(a.Attempt),
	)
	configureProcess(cmd)

	// The handle owns the pipes so that a descendant holding them open
	// cannot delay Wait past the worker's own exit.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = h.outputDrain

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return h.infrastructureFailure(res, rec, fmt.Errorf("start %s: %w", h.executor.Name(), err), log)
	}
	res.PID = cmd.Process.Pid
	res.Status = models.TaskStatusRunning
	h.setStatus(rec, models.TaskStatusRunning, fmt.Sprintf("pid %d", res.PID), log)
	log.Debug("worker started", zap.Int("pid", res.PID))

	capture := newTailBuffer(h.captureLimit)
	progress := newProgressWriter(rec, h.progressInterval, log)

	var readers sync.WaitGroup
	readers.Add(2)
	go h.readStream(&readers, stdoutR, capture, progress)
	go h.readStream(&readers, stderrR, capture, progress)

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		close(exited)
	}()

	runCtx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	var timedOut, cancelled bool
	select {
	case <-exited:
	case <-runCtx.Done():
		if ctx.Err() != nil {
			cancelled = true
		} else {
			timedOut = true
		}
		log.Debug("terminating worker", zap.Bool("timeout", timedOut))
		terminateProcess(cmd, h.killGrace, exited)
		<-exited
	}
	readers.Wait()
	progress.Close()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Debug("worker exited with output still open", zap.Duration("drain", h.outputDrain))
	}

	res.EndedAt = time.Now().UTC()
	res.Output = capture.String()
	res.OutputBytes = capture.Total()
	res.ExitCode = exitCode(cmd, waitErr)
	if files, err := workspace.ScanFiles(a.Workspace); err == nil {
		res.FilesCreated = files
	} else {
		log.Warn("scan workspace", zap.Error(err))
	}

	tail := strings.TrimSpace(res.Output)
	switch {
	case cancelled:
		res.Status = models.TaskStatusTerminated
		h.setStatus(rec, res.Status, "cancelled", log)
	case timedOut:
		res.Status = models.TaskStatusFailed
		res.Failure = &models.Failure{
			Kind:     models.FailureTimeout,
			Signal:   fmt.Sprintf("timed out after %s\n%s", a.Timeout, tail),
			ExitCode: res.ExitCode,
			Timeout:  true,
		}
		h.setStatus(rec, res.Status, fmt.Sprintf("timed out after %s", a.Timeout), log)
	case res.ExitCode == 0 && (h.marker == "" || strings.Contains(res.Output, h.marker)):
		res.Status = models.TaskStatusCompleted
		h.setStatus(rec, res.Status, "", log)
	case res.ExitCode == 0:
		res.Status = models.TaskStatusFailed
		res.Failure = &models.Failure{
			Signal: fmt.Sprintf("completion marker %q missing\n%s", h.marker, tail),
		}
		h.setStatus(rec, res.Status, "completion marker missing", log)
	default:
		res.Status = models.TaskStatusFailed
		res.Failure = &models.Failure{Signal: tail, ExitCode: res.ExitCode}
		h.setStatus(rec, res.Status, fmt.Sprintf("exit code %d", res.ExitCode), log)
	}

	log.Debug("worker finished",
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration()),
	)
	return res
}

// readStream copies worker output line by line into the capture buffer and
// the session's progress record.
func (h *Handle) readStream(wg *sync.WaitGroup, r io.Reader, capture *tailBuffer, progress *progressWriter) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		capture.WriteLine(line)
		if text := strings.TrimSpace(string(line)); text != "" {
			progress.Write(text)
		}
	}
	if err := scanner.Err(); err != nil {
		capture.WriteLine([]byte(fmt.Sprintf("[read error: %v]", err)))
		// Keep draining so the worker never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (h *Handle) infrastructureFailure(res *Result, rec state.RecordWriter, err error, log *zap.Logger) *Result {
	log.Warn("worker could not be launched", zap.Error(err))
	markInfrastructure(res, err)
	if !errors.Is(err, ErrHandleUsed) {
		h.setStatus(rec, res.Status, err.Error(), log)
	}
	return res
}

// Failed builds the Result of a session that never got to run a process.
func Failed(a Assignment, err error) *Result {
	now := time.Now().UTC()
	res := &Result{WorkerSession: models.WorkerSession{
		RunID:     a.RunID,
		TaskName:  a.TaskName,
		Attempt:   a.Attempt,
		StartedAt: now,
		Workspace: a.Workspace,
	}}
	markInfrastructure(res, err)
	return res
}

func markInfrastructure(res *Result, err error) {
	res.Status = models.TaskStatusFailed
	res.EndedAt = time.Now().UTC()
	res.ExitCode = -1
	res.Failure = &models.Failure{
		Kind:           models.FailureInfrastructure,
		Signal:         err.Error(),
		ExitCode:       -1,
		Infrastructure: true,
	}
}

func (h *Handle) setStatus(rec state.RecordWriter, status models.TaskStatus, detail string, log *zap.Logger) {
	if rec == nil {
		return
	}
	if err := rec.SetStatus(status, detail); err != nil {
		log.Warn("write session status", zap.String("status", string(status)), zap.Error(err))
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// progressWriter forwards the most recent output line to the record at
// most once per interval. A line held back by the throttle is written by a
// trailing timer.
type progressWriter struct {
	rec      state.RecordWriter
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	last    time.Time
	pending string
	timer   *time.Timer
	closed  bool
}

func newProgressWriter(rec state.RecordWriter, interval time.Duration, log *zap.Logger) *progressWriter {
	return &progressWriter{rec: rec, interval: interval, log: log}
}

func (p *progressWriter) Write(text string) {
	if p.rec == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.pending = text
	wait := p.interval - time.Since(p.last)
	if wait <= 0 {
		p.flushLocked()
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(wait, p.flushTrailing)
	}
}

func (p *progressWriter) flushTrailing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if !p.closed {
		p.flushLocked()
	}
}

// Close writes any held-back line and stops further writes.
func (p *progressWriter) Close() {
	if p.rec == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.flushLocked()
	p.closed = true
}

func (p *progressWriter) flushLocked() {
	if p.pending == "" {
		return
	}
	if err := p.rec.Progress(p.pending); err != nil {
		p.log.Debug("write progress", zap.Error(err))
	}
	p.pending = ""
	p.last = time.Now()
}
