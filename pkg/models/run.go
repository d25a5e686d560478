package models

import (
	"fmt"
	"time"
)

// ExecutionMode controls how the tasks of a batch are dispatched.
type ExecutionMode string

const (
	// ModeParallel dispatches every task of a batch concurrently, up to MaxParallel.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential dispatches one task at a time in declaration order.
	ModeSequential ExecutionMode = "sequential"
)

// Valid returns true if the mode is a known value.
func (m ExecutionMode) Valid() bool {
	return m == ModeParallel || m == ModeSequential
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusCreated            RunStatus = "CREATED"
	RunStatusRunning            RunStatus = "RUNNING"
	RunStatusCompleted          RunStatus = "COMPLETED"
	RunStatusPartiallyCompleted RunStatus = "PARTIALLY_COMPLETED"
	RunStatusHalted             RunStatus = "HALTED"
)

// Exit codes reported by the CLI.
const (
	ExitCompleted          = 0
	ExitHalted             = 1
	ExitPartiallyCompleted = 2
	ExitConfigRejected     = 78
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted,
		RunStatusPartiallyCompleted, RunStatusHalted:
		return true
	default:
		return false
	}
}

// Terminal returns true once the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartiallyCompleted || s == RunStatusHalted
}

// ExitCode maps a terminal run status to a process exit code.
// Non-terminal statuses map to ExitHalted.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusCompleted:
		return ExitCompleted
	case RunStatusPartiallyCompleted:
		return ExitPartiallyCompleted
	default:
		return ExitHalted
	}
}

// Run is an ordered collection of tasks submitted together.
type Run struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	Tasks       []*Task       `json:"tasks"`
	MaxParallel int           `json:"max_parallel"`
	Mode        ExecutionMode `json:"mode"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Task returns the task with the given name, or nil.
func (r *Run) Task(name string) *Task {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Validate checks every task and the references between them.
// Cycles are detected by the graph package when the plan is built.
func (r *Run) Validate() error {
	if r == nil {
		return &ConfigurationError{Reason: "nil run"}
	}
	if len(r.Tasks) == 0 {
		return &ConfigurationError{Reason: "run has no tasks"}
	}
	if r.MaxParallel < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("max parallel must be at least 1, got %d", r.MaxParallel)}
	}
	if r.Mode != "" && !r.Mode.Valid() {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown execution mode %q", r.Mode)}
	}

	names := make(map[string]bool, len(r.Tasks))
	slugs := make(map[string]string, len(r.Tasks))
	for _, t := range r.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if names[t.Name] {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate task name %q", t.Name), Tasks: []string{t.Name}}
		}
		names[t.Name] = true
		// Task names become file names in workspaces and record files.
		if other, ok := slugs[Slug(t.Name)]; ok {
			return &ConfigurationError{
				Reason: fmt.Sprintf("task names %q and %q map to the same file name", other, t.Name),
				Tasks:  []string{other, t.Name},
			}
		}
		slugs[Slug(t.Name)] = t.Name
	}
	for _, t := range r.Tasks {
		for _, dep := range t.DependsOn {
			if !names[dep] {
				return &ConfigurationError{
					Reason: fmt.Sprintf("task %q depends on unknown task %q", t.Name, dep),
					Tasks:  []string{t.Name, dep},
				}
			}
		}
	}
	return nil
}
