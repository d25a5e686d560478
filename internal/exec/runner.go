package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultOutputLimit caps how much of each stream a probe keeps.
const DefaultOutputLimit = 64 * 1024

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	dir   string
	env   []string
	limit int
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithDir runs commands in dir.
func WithDir(dir string) Option {
	return func(r *ExecRunner) { r.dir = dir }
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) { r.env = append(r.env, env...) }
}

// WithOutputLimit caps the bytes kept per stream. Zero or less keeps everything.
func WithOutputLimit(n int) Option {
	return func(r *ExecRunner) { r.limit = n }
}

// NewRunner creates a new ExecRunner.
func NewRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{limit: DefaultOutputLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probe runs name and collects both streams separately.
func (r *ExecRunner) Probe(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	stdout := &cappedBuffer{limit: r.limit}
	stderr := &cappedBuffer{limit: r.limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("%s exited with code %d", name, res.ExitCode)
	}
	res.ExitCode = -1
	return res, fmt.Errorf("running %s: %w", name, err)
}

// LookPath resolves name using PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
