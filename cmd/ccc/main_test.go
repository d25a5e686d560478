//go:build !windows

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/internal/signals"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// cli runs the CLI against an isolated state directory.
type cli struct {
	t        *testing.T
	stateDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return &cli{t: t, stateDir: filepath.Join(t.TempDir(), "state")}
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--state-dir", c.stateDir, "--log-level", "error"}, args...)
	code := execute(full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeRunFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"explicit", withCode(2, nil), 2},
		{"configuration", &models.ConfigurationError{Reason: "bad"}, 78},
		{"wrapped configuration", errors.Join(errors.New("x"), &models.ConfigurationError{Reason: "bad"}), 78},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestRun_Completed(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, `
name: shell-demo
max_parallel: 2
tasks:
  - name: a
    instruction: echo alpha > a.txt; echo done-a
  - name: b
    instruction: echo done-b
  - name: c
    instruction: echo done-c
    depends_on: [a, b]
`)

	code, out, errOut := c.run("run", rf, "--shell", "--quiet")
	require.Equal(t, 0, code, "stdout: %s\nstderr: %s", out, errOut)
	assert.Contains(t, out, "COMPLETED")

	code, out, _ = c.run("status", "--json")
	require.Equal(t, 0, code)
	var snap models.RunSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "shell-demo", snap.Name)
	assert.Equal(t, models.RunStatusCompleted, snap.Status)
	require.Len(t, snap.Tasks, 3)
	for _, task := range snap.Tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status, task.Name)
	}

	dst := t.TempDir()
	code, out, _ = c.run("collect", snap.ID, dst)
	require.Equal(t, 0, code, out)
	data, err := os.ReadFile(filepath.Join(dst, "a", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(data))
}

func TestRun_PartialExitCode(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, `
tasks:
  - name: flaky
    instruction: echo boom; exit 1
  - name: after
    instruction: echo never
    depends_on: [flaky]
  - name: other
    instruction: echo fine
`)

	code, out, _ := c.run("run", rf, "--shell", "--quiet")
	assert.Equal(t, models.ExitPartiallyCompleted, code, out)
	assert.Contains(t, out, "PARTIALLY_COMPLETED")
	assert.Contains(t, out, "SKIPPED")
}

func TestRun_CriticalHalts(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, `
tasks:
  - name: core
    critical: true
    instruction: echo fatal; exit 1
  - name: later
    instruction: echo never
    depends_on: [core]
`)

	code, out, _ := c.run("run", rf, "--shell", "--quiet")
	assert.Equal(t, models.ExitHalted, code, out)
	assert.Contains(t, out, "HALTED")
}

func TestRun_RejectsCycle(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, `
tasks:
  - name: a
    instruction: echo a
    depends_on: [b]
  - name: b
    instruction: echo b
    depends_on: [a]
`)

	code, _, errOut := c.run("run", rf, "--shell")
	assert.Equal(t, models.ExitConfigRejected, code)
	assert.Contains(t, errOut, "configuration rejected")

	code, out, _ := c.run("status", "--list", "5")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "No runs recorded yet.")
}

func TestPlan(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, `
name: plan-me
tasks:
  - name: schema
    instruction: x
    estimated_minutes: 10
  - name: api
    instruction: x
    depends_on: [schema]
    estimated_minutes: 20
  - name: docs
    instruction: x
    estimated_minutes: 5
`)

	code, out, _ := c.run("plan", rf)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "3 tasks in 2 batches")
	assert.Contains(t, out, "Batch 1")
	assert.Contains(t, out, "Critical path: schema → api (30m)")
}

func TestPlan_UnknownKeyRejected(t *testing.T) {
	c := newCLI(t)
	rf := writeRunFile(t, "tasks:\n  - name: a\n    instruction: x\n    retry: 2\n")

	code, _, _ := c.run("plan", rf)
	assert.Equal(t, models.ExitConfigRejected, code)
}

func TestCancel_WritesSignal(t *testing.T) {
	c := newCLI(t)
	code, _, errOut := c.run("cancel", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not found")

	rf := writeRunFile(t, "tasks:\n  - name: a\n    instruction: echo ok\n")
	code, _, _ = c.run("run", rf, "--shell", "--quiet")
	require.Equal(t, 0, code)

	code, out, _ := c.run("status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "COMPLETED")

	// Finished runs are not signalled.
	code, out, _ = c.run("status", "--json")
	require.Equal(t, 0, code)
	var snap models.RunSnapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))

	code, out, _ = c.run("cancel", snap.ID)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "already finished")

	sig, err := signals.New(c.stateDir)
	require.NoError(t, err)
	_, pending := sig.CancelRequested(snap.ID)
	assert.False(t, pending)
}

func TestConfigShowAndInit(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("config", "show", "orchestrator.max_parallel_sessions")
	require.Equal(t, 0, code)
	assert.Equal(t, "3\n", out)

	code, out, _ = c.run("config", "show")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "executor.binary: claude")
	assert.Contains(t, out, "CCC_MAX_PARALLEL_SESSIONS")

	code, _, _ = c.run("config", "init")
	require.Equal(t, 0, code)
	code, _, errOut := c.run("config", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	code := execute([]string{"version"}, &out, &bytes.Buffer{})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "ccc version ")
}
