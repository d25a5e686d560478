package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task or of one of its attempts.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusStarting indicates a worker process is being spawned.
	TaskStatusStarting TaskStatus = "STARTING"
	// TaskStatusRunning indicates a worker process is executing the task.
	TaskStatusRunning TaskStatus = "RUNNING"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "COMPLETED"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "FAILED"
	// TaskStatusTerminated indicates the worker was killed by the coordinator.
	TaskStatusTerminated TaskStatus = "TERMINATED"
	// TaskStatusSkipped indicates the task was never launched because a
	// dependency failed, was skipped, or the run halted.
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusStarting, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusTerminated, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is possible for the status.
// FAILED is terminal for a single attempt; the task itself may be retried
// with a fresh attempt.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTerminated, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in a run.
type Task struct {
	// Name is unique within a run.
	Name string `json:"name" yaml:"name"`
	// Component is a free category tag (backend, frontend, testing...).
	Component string `json:"component,omitempty" yaml:"component,omitempty"`
	// Instruction is the opaque payload handed to the worker.
	Instruction string `json:"instruction" yaml:"instruction"`
	// DependsOn lists task names that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Timeout bounds a single attempt. Zero means the configured default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Input is optional structured input written into the worker workspace.
	Input map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	// Critical tasks halt the run when they fail permanently.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`
	// Priority orders tasks inside a batch, higher first.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// EstimatedMinutes is used for critical path and time estimates.
	EstimatedMinutes int `json:"estimated_minutes,omitempty" yaml:"estimated_minutes,omitempty"`
}

// Validate checks the fields that can be verified without the rest of the run.
func (t *Task) Validate() error {
	if t == nil {
		return &ConfigurationError{Reason: "nil task"}
	}
	if strings.TrimSpace(t.Name) == "" {
		return &ConfigurationError{Reason: "task name is required"}
	}
	if strings.TrimSpace(t.Instruction) == "" {
		return &ConfigurationError{Reason: fmt.Sprintf("task %q has no instruction", t.Name), Tasks: []string{t.Name}}
	}
	if t.Timeout < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("task %q has a negative timeout", t.Name), Tasks: []string{t.Name}}
	}
	seen := make(map[string]bool, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if dep == t.Name {
			return &ConfigurationError{Reason: fmt.Sprintf("task %q depends on itself", t.Name), Tasks: []string{t.Name}}
		}
		if seen[dep] {
			return &ConfigurationError{Reason: fmt.Sprintf("task %q lists dependency %q twice", t.Name, dep), Tasks: []string{t.Name}}
		}
		seen[dep] = true
	}
	return nil
}

// Slug returns name reduced to characters that are safe in a file name.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// TaskSnapshot is the per-task breakdown of a run.
type TaskSnapshot struct {
	Name         string     `json:"name"`
	Component    string     `json:"component,omitempty"`
	Critical     bool       `json:"critical,omitempty"`
	Status       TaskStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	Reason       string     `json:"reason,omitempty"`
	LastProgress string     `json:"last_progress,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
