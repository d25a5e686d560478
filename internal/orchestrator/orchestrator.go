// Package orchestrator coordinates the worker sessions of a run. It plans the
// dependency batches, dispatches sessions with bounded parallelism, applies
// the recovery tiers to failures, and resolves the run's final status.
//
// The orchestrator is the only component that sees the whole run. Workers
// receive a worker.Assignment naming their own task and write only their own
// session record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/internal/graph"
	"github.com/ShayCichocki/ccc/internal/metrics"
	"github.com/ShayCichocki/ccc/internal/recovery"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// ErrAlreadyRun is returned when Run is called twice on one Orchestrator.
var ErrAlreadyRun = errors.New("orchestrator already ran")

// ReasonRunHalted is recorded on tasks skipped because the run halted.
const ReasonRunHalted = "run halted"

// Orchestrator executes one run.
type Orchestrator struct {
	launcher            Launcher
	store               RunStore
	classifier          *recovery.Classifier
	logger              *zap.Logger
	metrics             *metrics.Metrics
	emitter             *EventEmitter
	maxParallel         int
	cancelRunningOnHalt bool
	defaultTimeout      time.Duration

	started atomic.Bool

	mu             sync.Mutex
	run            *models.Run
	graph          *graph.DependencyGraph
	tasks          map[string]*taskState
	counters       models.Counters
	halted         bool
	haltReason     string
	startedAt      time.Time
	cancelSessions context.CancelCauseFunc
	pendingCancel  string
}

// taskState is the coordinator's view of one task. Guarded by Orchestrator.mu.
type taskState struct {
	task         *models.Task
	status       models.TaskStatus
	attempts     int
	reason       string
	lastProgress string
	updatedAt    time.Time
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.classifier == nil {
		o.classifier = recovery.MustDefault()
	}

	return &Orchestrator{
		launcher:            req.Launcher,
		store:               req.Store,
		classifier:          o.classifier,
		logger:              o.logger,
		metrics:             o.metrics,
		emitter:             NewEventEmitter(o.eventBuffer, o.logger),
		maxParallel:         o.maxParallel,
		cancelRunningOnHalt: o.cancelRunningOnHalt,
		defaultTimeout:      o.defaultTimeout,
	}
}

// NewRunID returns a short random run identifier.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// Prepare validates a run and computes its batches. Every rejection is a
// *models.ConfigurationError, and nothing is executed.
func Prepare(run *models.Run) (*graph.DependencyGraph, []graph.Batch, error) {
	if err := run.Validate(); err != nil {
		return nil, nil, err
	}
	g, err := graph.FromTasks(run.Tasks)
	if err != nil {
		return nil, nil, err
	}

	var batches []graph.Batch
	if run.Mode == models.ModeSequential {
		batches, err = g.SequentialPlan()
	} else {
		batches, err = g.Plan()
	}
	if err != nil {
		return nil, nil, err
	}
	return g, batches, nil
}

// Events returns the channel of orchestrator events. It is closed when Run returns.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEventCount returns the number of events dropped because no one was reading.
func (o *Orchestrator) DroppedEventCount() uint64 {
	return o.emitter.DroppedCount()
}

// Cancel stops the run: no further tasks are dispatched and running sessions
// are terminated. The run resolves to HALTED with reason.
func (o *Orchestrator) Cancel(reason string) {
	if reason == "" {
		reason = "cancelled"
	}
	o.mu.Lock()
	if o.cancelSessions == nil {
		// Not running yet; Run picks this up when it starts.
		o.pendingCancel = reason
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.halt(reason, true)
}

// Snapshot returns the current in-memory state of the run, or nil before Run.
func (o *Orchestrator) Snapshot() *models.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return nil
	}
	return o.snapshotLocked(models.RunStatusRunning, "")
}

// halt stops dispatching. Running sessions are cancelled when cancelRunning
// is set.
func (o *Orchestrator) halt(reason string, cancelRunning bool) {
	o.mu.Lock()
	if o.halted {
		o.mu.Unlock()
		return
	}
	o.halted = true
	o.haltReason = reason
	cancel := o.cancelSessions
	runID := o.run.ID
	o.mu.Unlock()

	o.logger.Warn("run halted", zap.String("run_id", runID), zap.String("reason", reason))
	o.appendEvent(runID, EventRunHalted, reason)
	o.emitter.Emit(Event{Type: EventRunHalted, RunID: runID, Status: string(models.RunStatusHalted), Message: reason})

	if cancelRunning && cancel != nil {
		cancel(errors.New(reason))
	}
}

func (o *Orchestrator) isHalted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}

// setTask records a task transition in memory and in the store.
func (o *Orchestrator) setTask(name string, status models.TaskStatus, reason string) {
	o.mu.Lock()
	st := o.tasks[name]
	st.status = status
	st.reason = reason
	st.updatedAt = time.Now()
	attempts := st.attempts
	runID := o.run.ID
	o.mu.Unlock()

	if err := o.store.UpdateTask(runID, name, status, attempts, reason); err != nil {
		o.logger.Warn("persist task state",
			zap.String("run_id", runID),
			zap.String("task", name),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) setProgress(name, text string) {
	o.mu.Lock()
	if st, ok := o.tasks[name]; ok {
		st.lastProgress = text
		st.updatedAt = time.Now()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) updateCounters(fn func(c *models.Counters)) {
	o.mu.Lock()
	fn(&o.counters)
	o.mu.Unlock()
}

func (o *Orchestrator) persistRun(status models.RunStatus, reason string) {
	o.mu.Lock()
	counters := o.counters
	runID := o.run.ID
	o.mu.Unlock()

	if err := o.store.UpdateRun(runID, status, reason, counters); err != nil {
		o.logger.Warn("persist run state", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) appendEvent(runID string, kind EventType, message string) {
	if err := o.store.AppendEvent(runID, string(kind), message); err != nil {
		o.logger.Debug("append run event", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) snapshotLocked(status models.RunStatus, reason string) *models.RunSnapshot {
	snap := &models.RunSnapshot{
		ID:          o.run.ID,
		Name:        o.run.Name,
		Mode:        o.run.Mode,
		MaxParallel: o.run.MaxParallel,
		Status:      status,
		Reason:      reason,
		CreatedAt:   o.run.CreatedAt,
		StartedAt:   o.startedAt,
		Counters:    o.counters,
		Tasks:       make([]models.TaskSnapshot, 0, len(o.run.Tasks)),
	}
	for _, t := range o.run.Tasks {
		st := o.tasks[t.Name]
		snap.Tasks = append(snap.Tasks, models.TaskSnapshot{
			Name:         t.Name,
			Component:    t.Component,
			Critical:     t.Critical,
			Status:       st.status,
			Attempts:     st.attempts,
			Reason:       st.reason,
			LastProgress: st.lastProgress,
			UpdatedAt:    st.updatedAt,
		})
	}
	return snap
}

// resolveLocked computes the final run status from the task states.
func (o *Orchestrator) resolveLocked() (models.RunStatus, string) {
	if o.halted {
		return models.RunStatusHalted, o.haltReason
	}
	var failed, skipped int
	for _, st := range o.tasks {
		switch st.status {
		case models.TaskStatusCompleted:
		case models.TaskStatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	if failed == 0 && skipped == 0 {
		return models.RunStatusCompleted, ""
	}
	return models.RunStatusPartiallyCompleted, fmt.Sprintf("%d failed, %d skipped", failed, skipped)
}
