package runfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/pkg/models"
)

func TestLoader_Load(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expRun *models.Run
		expErr bool
		errMsg string
		cfgErr bool
	}{
		"A minimal run file should use defaults": {
			fs: fstest.MapFS{
				"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: build
    instruction: build it
`)},
			},
			path: "run.yaml",
			expRun: &models.Run{
				MaxParallel: DefaultMaxParallel,
				Mode:        models.ModeParallel,
				Tasks: []*models.Task{
					{Name: "build", Instruction: "build it"},
				},
			},
		},
		"A full run file should map every field": {
			fs: fstest.MapFS{
				"runs/feature.yaml": &fstest.MapFile{Data: []byte(`
name: feature
max_parallel: 2
mode: Sequential
defaults:
  timeout: 10m
  critical: true
tasks:
  - name: schema
    component: backend
    instruction: add the table
    priority: 5
    estimated_minutes: 15
    input:
      table: users
  - name: api
    instruction_file: prompts/api.md
    depends_on: [schema]
    timeout: 90s
    critical: false
`)},
				"runs/prompts/api.md": &fstest.MapFile{Data: []byte("write the handler\n")},
			},
			path: "runs/feature.yaml",
			expRun: &models.Run{
				Name:        "feature",
				MaxParallel: 2,
				Mode:        models.ModeSequential,
				Tasks: []*models.Task{
					{
						Name:             "schema",
						Component:        "backend",
						Instruction:      "add the table",
						Timeout:          10 * time.Minute,
						Critical:         true,
						Priority:         5,
						EstimatedMinutes: 15,
						Input:            map[string]any{"table": "users"},
					},
					{
						Name:        "api",
						Instruction: "write the handler",
						DependsOn:   []string{"schema"},
						Timeout:     90 * time.Second,
						Critical:    false,
					},
				},
			},
		},
		"A missing file should fail": {
			fs:     fstest.MapFS{},
			path:   "missing.yaml",
			expErr: true,
			errMsg: "reading run file",
		},
		"An empty file should be rejected": {
			fs:     fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte("")}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "empty",
		},
		"Unknown keys should be rejected": {
			fs: fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: a
    instruction: x
    retries: 3
`)}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "retries",
		},
		"A bad duration should be rejected": {
			fs: fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: a
    instruction: x
    timeout: soon
`)}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: `task "a" timeout`,
		},
		"Both instruction forms should be rejected": {
			fs: fstest.MapFS{
				"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: a
    instruction: x
    instruction_file: a.md
`)},
				"a.md": &fstest.MapFile{Data: []byte("y")},
			},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "both instruction and instruction_file",
		},
		"A missing instruction file should be rejected": {
			fs: fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: a
    instruction_file: nope.md
`)}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "instruction_file nope.md",
		},
		"An unknown dependency should be rejected": {
			fs: fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte(`
tasks:
  - name: a
    instruction: x
    depends_on: [ghost]
`)}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "unknown task",
		},
		"An unknown mode should be rejected": {
			fs: fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte(`
mode: eventually
tasks:
  - name: a
    instruction: x
`)}},
			path:   "run.yaml",
			expErr: true,
			cfgErr: true,
			errMsg: "execution mode",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			run, err := NewLoader(test.fs).Load(context.Background(), test.path)

			if test.expErr {
				require.Error(err)
				assert.Contains(err.Error(), test.errMsg)
				assert.Equal(test.cfgErr, models.IsConfigurationError(err))
				return
			}
			require.NoError(err)
			assert.Equal(test.expRun, run)
		})
	}
}

func TestLoader_LoadCancelledContext(t *testing.T) {
	fsys := fstest.MapFS{"run.yaml": &fstest.MapFile{Data: []byte("tasks: []\n")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(fsys).Load(ctx, "run.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("from disk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte(`
name: disk
tasks:
  - name: only
    instruction_file: prompt.md
`), 0644))

	run, err := LoadFile(context.Background(), filepath.Join(dir, "run.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "disk", run.Name)
	require.Len(t, run.Tasks, 1)
	assert.Equal(t, "from disk", run.Tasks[0].Instruction)
}
