package doctor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/internal/config"
	"github.com/ShayCichocki/ccc/internal/exec"
)

type fakeRunner struct {
	path    string
	lookErr error
	res     exec.Result
	runErr  error
	calls   [][]string
}

func (f *fakeRunner) Probe(_ context.Context, name string, args ...string) (exec.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.res, f.runErr
}

func (f *fakeRunner) LookPath(string) (string, error) {
	return f.path, f.lookErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Default()
	cfg.State.Dir = filepath.Join(t.TempDir(), "state")
	return cfg
}

func byName(checks []Check, name string) Check {
	for _, c := range checks {
		if c.Name == name {
			return c
		}
	}
	return Check{}
}

func TestRun_Healthy(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{path: "/usr/bin/claude", res: exec.Result{Stdout: "1.2.3 (Claude Code)\nextra\n"}}

	checks := Run(context.Background(), cfg, runner)
	assert.True(t, Healthy(checks), "%+v", checks)

	exe := byName(checks, "executor")
	assert.Equal(t, "/usr/bin/claude (1.2.3 (Claude Code))", exe.Detail)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"/usr/bin/claude", "--version"}, runner.calls[0])

	assert.Contains(t, byName(checks, "state").Detail, "0 runs")
	assert.Equal(t, filepath.Join(cfg.State.Dir, "signals"), byName(checks, "signals").Detail)
}

func TestRun_MissingExecutor(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{lookErr: errors.New("executable file not found in $PATH")}

	checks := Run(context.Background(), cfg, runner)
	assert.False(t, Healthy(checks))

	exe := byName(checks, "executor")
	assert.False(t, exe.OK)
	assert.Contains(t, exe.Detail, "claude not found")
	assert.Empty(t, runner.calls)
}

func TestRun_ExecutorProbeFails(t *testing.T) {
	cfg := testConfig(t)
	runner := &fakeRunner{
		path:   "/bin/claude",
		res:    exec.Result{ExitCode: 1, Stderr: "not logged in\n"},
		runErr: errors.New("/bin/claude exited with code 1"),
	}

	exe := byName(Run(context.Background(), cfg, runner), "executor")
	assert.False(t, exe.OK)
	assert.Contains(t, exe.Detail, "--version failed")
	assert.Contains(t, exe.Detail, "not logged in")
}

func TestRun_BadBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Backend = "redis"

	st := byName(Run(context.Background(), cfg, &fakeRunner{path: "x"}), "state")
	assert.False(t, st.OK)
	assert.Contains(t, st.Detail, "unknown state backend")
}
