// Package state provides durable run and session state for ccc.
// The coordinator writes run and task state, each worker session writes only
// its own record, and observers read through a read-only view.
package state

import (
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Event is one entry of a run's event log.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RunWriter holds the coordinator-level mutations. Only the orchestrator
// that owns a run writes through it.
type RunWriter interface {
	CreateRun(run *models.Run) error
	UpdateRun(runID string, status models.RunStatus, reason string, counters models.Counters) error
	UpdateTask(runID, name string, status models.TaskStatus, attempts int, reason string) error
	AppendEvent(runID, kind, message string) error
}

// RecordWriter is a single session's view of the store. Its keys are bound
// when it is opened, so the holder can write its own record and nothing else.
type RecordWriter interface {
	SetStatus(status models.TaskStatus, detail string) error
	Progress(text string) error
}

// SessionOpener creates per-session record writers.
type SessionOpener interface {
	OpenSession(runID, task string, attempt int) (RecordWriter, error)
}

// Observer is the read-only view used by status commands and dashboards.
type Observer interface {
	// GetRun returns the run definition.
	GetRun(runID string) (*models.Run, error)
	// ListRuns returns run summaries, newest first, without task breakdowns.
	ListRuns(limit int) ([]models.RunSnapshot, error)
	ListTasks(runID string) ([]models.TaskSnapshot, error)
	// ListRecords returns every session record of a run, ordered by task
	// declaration then attempt.
	ListRecords(runID string) ([]models.StateRecord, error)
	ListEvents(runID string, limit int) ([]Event, error)
	Snapshot(runID string) (*models.RunSnapshot, error)
}

// Migrator handles schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store composes every capability of a backend.
type Store interface {
	io.Closer
	Migrator
	RunWriter
	SessionOpener
	Observer
}

// Compile-time verification that both backends implement all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Store         = (*FileStore)(nil)
	_ Observer      = (*DB)(nil)
	_ Observer      = (*FileStore)(nil)
	_ SessionOpener = (*DB)(nil)
	_ SessionOpener = (*FileStore)(nil)
)
