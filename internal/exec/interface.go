// Package exec runs short external commands such as version probes.
package exec

import (
	"context"
	"strings"
	"time"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// FirstLine returns the first non-empty line of stdout, falling back to stderr.
func (r Result) FirstLine() string {
	for _, s := range []string{r.Stdout, r.Stderr} {
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
		}
	}
	return ""
}

// CommandRunner runs commands to completion.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Probe runs name with args and waits for it. A non-zero exit is
	// reported both in Result.ExitCode and as an error.
	Probe(ctx context.Context, name string, args ...string) (Result, error)

	// LookPath resolves name to an executable path.
	LookPath(name string) (string, error)
}
