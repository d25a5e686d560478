package models

import "time"

// FailureKind is an optional hint attached to a failure by whoever observed it.
type FailureKind string

const (
	FailureTransient      FailureKind = "transient"
	FailureLogic          FailureKind = "logic"
	FailureNonCritical    FailureKind = "non_critical"
	FailureCritical       FailureKind = "critical"
	FailureTimeout        FailureKind = "timeout"
	FailureInfrastructure FailureKind = "infrastructure"
)

// Failure is the signal a failed attempt leaves behind for the classifier.
type Failure struct {
	// Kind is an optional hint. Transient and logic hints bypass pattern matching.
	Kind FailureKind `json:"kind,omitempty"`
	// Signal is the diagnostic text, usually the tail of the captured output.
	Signal   string `json:"signal,omitempty"`
	ExitCode int    `json:"exit_code"`
	Timeout  bool   `json:"timeout,omitempty"`
	// Infrastructure is set when the executor could not be run at all.
	Infrastructure bool `json:"infrastructure,omitempty"`
}

// WorkerSession is one execution attempt of a task.
type WorkerSession struct {
	RunID        string     `json:"run_id"`
	TaskName     string     `json:"task_name"`
	Attempt      int        `json:"attempt"`
	Status       TaskStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at,omitempty"`
	Output       string     `json:"output,omitempty"`
	ExitCode     int        `json:"exit_code"`
	Failure      *Failure   `json:"failure,omitempty"`
	PID          int        `json:"pid,omitempty"`
	Workspace    string     `json:"workspace,omitempty"`
	FilesCreated []string   `json:"files_created,omitempty"`
}

// Duration returns how long the session ran, or zero if it has not ended.
func (s *WorkerSession) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// StateRecord is the externally visible projection of a WorkerSession.
type StateRecord struct {
	RunID     string     `json:"run_id"`
	TaskName  string     `json:"task_name"`
	Attempt   int        `json:"attempt"`
	Status    TaskStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
	Progress  string     `json:"progress,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// Counters are run-scoped tallies threaded through the orchestrator.
type Counters struct {
	SessionsLaunched int   `json:"sessions_launched"`
	Retries          int   `json:"retries"`
	Failures         int   `json:"failures"`
	Skipped          int   `json:"skipped"`
	OutputBytes      int64 `json:"output_bytes"`
}
