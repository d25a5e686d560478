// Package runfile loads run definitions from YAML.
package runfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// DefaultMaxParallel applies when a run file sets no max_parallel.
const DefaultMaxParallel = 3

// Loader reads run files from a filesystem.
type Loader struct {
	fs fs.FS
}

// NewLoader creates a loader over filesystem.
func NewLoader(filesystem fs.FS) *Loader {
	return &Loader{fs: filesystem}
}

// LoadFile loads a run file from the local disk. instruction_file entries
// are resolved relative to the run file's directory.
func LoadFile(ctx context.Context, file string) (*models.Run, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", file, err)
	}
	return NewLoader(os.DirFS(filepath.Dir(abs))).Load(ctx, filepath.Base(abs))
}

// Load parses the run file at name and returns a validated run.
// Every problem with the file's content is a *models.ConfigurationError.
func (l *Loader) Load(ctx context.Context, name string) (*models.Run, error) {
	data, err := fs.ReadFile(l.fs, name)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var rf RunFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &models.ConfigurationError{Reason: "run file is empty"}
		}
		return nil, &models.ConfigurationError{Reason: fmt.Sprintf("parsing %s: %v", name, err), Err: err}
	}

	if err := rf.resolveInstructions(l.fs, path.Dir(name)); err != nil {
		return nil, err
	}

	run, err := rf.toModel()
	if err != nil {
		return nil, err
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

// RunFile represents the YAML structure of a run definition.
type RunFile struct {
	Name        string        `yaml:"name"`
	MaxParallel int           `yaml:"max_parallel"`
	Mode        string        `yaml:"mode"`
	Defaults    DefaultsBlock `yaml:"defaults"`
	Tasks       []TaskBlock   `yaml:"tasks"`
}

// DefaultsBlock holds values applied to tasks that leave them unset.
type DefaultsBlock struct {
	Timeout  string `yaml:"timeout"`
	Critical bool   `yaml:"critical"`
}

// TaskBlock represents one task entry.
type TaskBlock struct {
	Name             string         `yaml:"name"`
	Component        string         `yaml:"component"`
	Instruction      string         `yaml:"instruction"`
	InstructionFile  string         `yaml:"instruction_file"`
	DependsOn        []string       `yaml:"depends_on"`
	Timeout          string         `yaml:"timeout"`
	Critical         *bool          `yaml:"critical"`
	Priority         int            `yaml:"priority"`
	EstimatedMinutes int            `yaml:"estimated_minutes"`
	Input            map[string]any `yaml:"input"`
}

func (rf *RunFile) resolveInstructions(fsys fs.FS, dir string) error {
	for i := range rf.Tasks {
		t := &rf.Tasks[i]
		if t.InstructionFile == "" {
			continue
		}
		if t.Instruction != "" {
			return &models.ConfigurationError{
				Reason: fmt.Sprintf("task %q sets both instruction and instruction_file", t.Name),
				Tasks:  []string{t.Name},
			}
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, t.InstructionFile))
		if err != nil {
			return &models.ConfigurationError{
				Reason: fmt.Sprintf("task %q: reading instruction_file %s: %v", t.Name, t.InstructionFile, err),
				Tasks:  []string{t.Name},
				Err:    err,
			}
		}
		t.Instruction = strings.TrimSpace(string(data))
	}
	return nil
}

func (rf *RunFile) toModel() (*models.Run, error) {
	run := &models.Run{
		Name:        rf.Name,
		MaxParallel: rf.MaxParallel,
		Mode:        models.ModeParallel,
	}
	if run.MaxParallel == 0 {
		run.MaxParallel = DefaultMaxParallel
	}
	if rf.Mode != "" {
		run.Mode = models.ExecutionMode(strings.ToLower(rf.Mode))
	}

	defaultTimeout, err := parseDuration("defaults.timeout", rf.Defaults.Timeout)
	if err != nil {
		return nil, err
	}

	run.Tasks = make([]*models.Task, 0, len(rf.Tasks))
	for _, tb := range rf.Tasks {
		timeout, err := parseDuration(fmt.Sprintf("task %q timeout", tb.Name), tb.Timeout)
		if err != nil {
			return nil, err
		}
		if timeout == 0 {
			timeout = defaultTimeout
		}
		critical := rf.Defaults.Critical
		if tb.Critical != nil {
			critical = *tb.Critical
		}
		run.Tasks = append(run.Tasks, &models.Task{
			Name:             tb.Name,
			Component:        tb.Component,
			Instruction:      tb.Instruction,
			DependsOn:        tb.DependsOn,
			Timeout:          timeout,
			Input:            tb.Input,
			Critical:         critical,
			Priority:         tb.Priority,
			EstimatedMinutes: tb.EstimatedMinutes,
		})
	}
	return run, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &models.ConfigurationError{Reason: fmt.Sprintf("%s: %v", field, err), Err: err}
	}
	if d < 0 {
		return 0, &models.ConfigurationError{Reason: fmt.Sprintf("%s must not be negative", field)}
	}
	return d, nil
}
