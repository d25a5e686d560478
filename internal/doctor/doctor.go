// Package doctor checks that the local environment can coordinate runs.
package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/ccc/internal/config"
	"github.com/ShayCichocki/ccc/internal/exec"
	"github.com/ShayCichocki/ccc/internal/signals"
	"github.com/ShayCichocki/ccc/internal/state"
)

// ProbeTimeout bounds the executor version probe.
const ProbeTimeout = 10 * time.Second

// Check is the outcome of one diagnostic.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Run performs every check against cfg.
func Run(ctx context.Context, cfg *config.Config, runner exec.CommandRunner) []Check {
	return []Check{
		checkExecutor(ctx, cfg.Executor.Binary, runner),
		checkState(cfg.State),
		checkSignals(cfg.State.Dir),
		checkConfigFiles(),
	}
}

// Healthy reports whether every check passed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func checkExecutor(ctx context.Context, binary string, runner exec.CommandRunner) Check {
	c := Check{Name: "executor"}
	path, err := runner.LookPath(binary)
	if err != nil {
		c.Detail = fmt.Sprintf("%s not found: %v", binary, err)
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	res, err := runner.Probe(ctx, path, "--version")
	if err != nil {
		c.Detail = fmt.Sprintf("%s --version failed: %v", path, err)
		if line := res.FirstLine(); line != "" {
			c.Detail += ": " + line
		}
		return c
	}
	c.OK = true
	c.Detail = path
	if v := res.FirstLine(); v != "" {
		c.Detail += " (" + v + ")"
	}
	return c
}

func checkState(cfg config.StateConfig) Check {
	c := Check{Name: "state"}
	store, err := state.Open(cfg.Backend, cfg.Dir)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	defer store.Close()

	runs, err := store.ListRuns(0)
	if err != nil {
		c.Detail = fmt.Sprintf("listing runs: %v", err)
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%s store in %s, %d runs", cfg.Backend, cfg.Dir, len(runs))
	return c
}

func checkSignals(stateDir string) Check {
	c := Check{Name: "signals"}
	m, err := signals.New(stateDir)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = m.Dir()
	return c
}

// checkConfigFiles is informational and always passes.
func checkConfigFiles() Check {
	detail := "user " + config.GetUserConfigPath()
	if p := config.GetProjectConfigPath(); p != "" {
		detail += ", project " + p
	}
	return Check{Name: "config", OK: true, Detail: detail}
}
