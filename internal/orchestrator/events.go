package orchestrator

import (
	"time"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates the run passed validation and is dispatching.
	EventRunStarted EventType = "run_started"
	// EventTaskQueued indicates a task's dependencies are satisfied and it awaits a slot.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a worker session was launched for a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskProgress carries the latest output line of a running session.
	EventTaskProgress EventType = "task_progress"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed and will not be retried.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetry indicates a failed attempt is being retried.
	EventTaskRetry EventType = "task_retry"
	// EventTaskSkipped indicates a task will never run.
	EventTaskSkipped EventType = "task_skipped"
	// EventTaskTerminated indicates a running session was stopped by the coordinator.
	EventTaskTerminated EventType = "task_terminated"
	// EventRunHalted indicates no further tasks will be dispatched.
	EventRunHalted EventType = "run_halted"
	// EventRunDone indicates the run reached a terminal status.
	EventRunDone EventType = "run_done"
)

// Event represents an event emitted by the orchestrator.
// These events feed dashboards and the CLI's live output.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to.
	RunID string
	// Task is the name of the related task, if applicable.
	Task string
	// Attempt is the attempt number for session events.
	Attempt int
	// Status is the task or run status after the event.
	Status string
	// Message provides additional context about the event.
	Message string
	// Decision is set on retry and failure events.
	Decision *models.RecoveryDecision
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the session wall time for task_completed and task_failed.
	Duration time.Duration
}
