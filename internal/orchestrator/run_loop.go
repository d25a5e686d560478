package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/ccc/internal/graph"
	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/internal/worker"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// Run executes run to a terminal status and returns its final snapshot.
//
// A run rejected by validation or planning returns a *models.ConfigurationError
// and no worker is launched. Task failures never surface as errors; they are
// reflected in the snapshot. Cancelling ctx halts the run.
func (o *Orchestrator) Run(ctx context.Context, run *models.Run) (*models.RunSnapshot, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	defer o.emitter.Close()

	if run != nil && run.ID == "" {
		run.ID = NewRunID()
	}
	if run != nil && run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	g, batches, err := Prepare(run)
	if err != nil {
		o.logger.Warn("run rejected", zap.Error(err))
		return nil, err
	}
	log := o.logger.With(zap.String("run_id", run.ID))

	sessCtx, cancelSessions := context.WithCancelCause(ctx)
	defer cancelSessions(nil)

	o.mu.Lock()
	o.run = run
	o.graph = g
	o.tasks = make(map[string]*taskState, len(run.Tasks))
	for _, t := range run.Tasks {
		o.tasks[t.Name] = &taskState{task: t, status: models.TaskStatusPending}
	}
	o.cancelSessions = cancelSessions
	pendingCancel := o.pendingCancel
	o.mu.Unlock()

	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.mu.Lock()
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()
	o.persistRun(models.RunStatusRunning, "")

	parallel := o.parallelism(run)
	log.Info("run started",
		zap.Int("tasks", len(run.Tasks)),
		zap.Int("batches", len(batches)),
		zap.Int("parallel", parallel),
		zap.String("mode", string(run.Mode)),
	)
	o.appendEvent(run.ID, EventRunStarted, fmt.Sprintf("%d tasks in %d batches", len(run.Tasks), len(batches)))
	o.emitter.Emit(Event{Type: EventRunStarted, RunID: run.ID, Status: string(models.RunStatusRunning)})

	if pendingCancel != "" {
		o.halt(pendingCancel, true)
	}

	for i, batch := range batches {
		if ctx.Err() != nil {
			o.halt(fmt.Sprintf("cancelled: %v", context.Cause(ctx)), true)
		}
		if o.isHalted() {
			break
		}
		log.Debug("dispatching batch", zap.Int("batch", i), zap.Strings("tasks", batch))
		o.runBatch(ctx, sessCtx, batch, parallel)
	}

	if ctx.Err() != nil {
		o.halt(fmt.Sprintf("cancelled: %v", context.Cause(ctx)), true)
	}
	o.skipRemaining()

	o.mu.Lock()
	status, reason := o.resolveLocked()
	snap := o.snapshotLocked(status, reason)
	o.mu.Unlock()
	snap.EndedAt = time.Now().UTC()

	o.persistRun(status, reason)
	o.metrics.RunFinished(status)
	o.appendEvent(run.ID, EventRunDone, fmt.Sprintf("%s %s", status, reason))
	o.emitter.Emit(Event{Type: EventRunDone, RunID: run.ID, Status: string(status), Message: reason})

	counts := snap.CountByStatus()
	log.Info("run finished",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("completed", counts[models.TaskStatusCompleted]),
		zap.Int("failed", counts[models.TaskStatusFailed]),
		zap.Int("skipped", counts[models.TaskStatusSkipped]),
		zap.Int("terminated", counts[models.TaskStatusTerminated]),
		zap.Int("sessions", snap.Counters.SessionsLaunched),
	)
	return snap, nil
}

// parallelism is min(run limit, configured cap), or 1 for sequential runs.
func (o *Orchestrator) parallelism(run *models.Run) int {
	if run.Mode == models.ModeSequential {
		return 1
	}
	n := run.MaxParallel
	if o.maxParallel > 0 && o.maxParallel < n {
		n = o.maxParallel
	}
	if n < 1 {
		n = 1
	}
	return n
}

// runBatch dispatches a batch in order and waits for all of it.
func (o *Orchestrator) runBatch(ctx, sessCtx context.Context, batch graph.Batch, parallel int) {
	var eg errgroup.Group
	eg.SetLimit(parallel)

	for _, name := range batch {
		if o.isHalted() {
			break
		}
		o.mu.Lock()
		status := o.tasks[name].status
		o.mu.Unlock()
		if status != models.TaskStatusPending {
			// Already skipped because a dependency failed.
			continue
		}
		o.emitter.Emit(Event{Type: EventTaskQueued, RunID: o.run.ID, Task: name, Status: string(status)})

		// Go blocks until a slot is free, which keeps dispatch in batch order.
		eg.Go(func() error {
			if o.isHalted() {
				return nil
			}
			o.runTask(ctx, sessCtx, name)
			return nil
		})
	}
	_ = eg.Wait()
}

// runTask runs attempts of one task until it completes, is given up on, or
// the run halts.
func (o *Orchestrator) runTask(ctx, sessCtx context.Context, name string) {
	o.mu.Lock()
	st := o.tasks[name]
	task := st.task
	runID := o.run.ID
	o.mu.Unlock()

	log := o.logger.With(zap.String("run_id", runID), zap.String("task", name))
	instruction := task.Instruction
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	for {
		o.mu.Lock()
		st.attempts++
		attempt := st.attempts
		o.mu.Unlock()

		o.setTask(name, models.TaskStatusStarting, "")
		res := o.launch(sessCtx, worker.Assignment{
			RunID:       runID,
			SessionID:   fmt.Sprintf("%s/%s/%d", runID, models.Slug(name), attempt),
			TaskName:    name,
			Instruction: instruction,
			Input:       task.Input,
			Attempt:     attempt,
			Timeout:     timeout,
		}, log.With(zap.Int("attempt", attempt)))

		switch res.Status {
		case models.TaskStatusCompleted:
			o.setTask(name, models.TaskStatusCompleted, "")
			o.emitter.Emit(Event{
				Type: EventTaskCompleted, RunID: runID, Task: name, Attempt: attempt,
				Status: string(models.TaskStatusCompleted), Duration: res.Duration(),
			})
			o.appendEvent(runID, EventTaskCompleted, fmt.Sprintf("%s attempt %d", name, attempt))
			log.Info("task completed", zap.Int("attempt", attempt), zap.Duration("duration", res.Duration()))
			o.persistRun(models.RunStatusRunning, "")
			return

		case models.TaskStatusTerminated:
			reason := o.terminationReason(ctx)
			o.setTask(name, models.TaskStatusTerminated, reason)
			o.emitter.Emit(Event{
				Type: EventTaskTerminated, RunID: runID, Task: name, Attempt: attempt,
				Status: string(models.TaskStatusTerminated), Message: reason,
			})
			o.appendEvent(runID, EventTaskTerminated, fmt.Sprintf("%s attempt %d: %s", name, attempt, reason))
			log.Info("task terminated", zap.Int("attempt", attempt), zap.String("reason", reason))
			o.persistRun(models.RunStatusRunning, "")
			return
		}

		// Failed attempt.
		o.updateCounters(func(c *models.Counters) { c.Failures++ })
		failure := models.Failure{Signal: "worker failed"}
		if res.Failure != nil {
			failure = *res.Failure
		}

		decision := o.classifier.Classify(failure, task.Critical, attempt)
		o.metrics.Decision(decision)
		log.Info("task attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("exit_code", res.ExitCode),
			zap.Stringer("tier", decision.Tier),
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason),
		)
		o.appendEvent(runID, EventTaskFailed, fmt.Sprintf("%s attempt %d: %s", name, attempt, decision))

		if decision.Action.Retries() && o.isHalted() {
			decision.Action = models.ActionSkipTask
			decision.Reason = "not retried: " + o.haltReasonOrDefault()
		}

		switch decision.Action {
		case models.ActionRetryVerbatim, models.ActionRetryWithGuidance:
			o.updateCounters(func(c *models.Counters) { c.Retries++ })
			if decision.Action == models.ActionRetryWithGuidance {
				instruction = o.classifier.Guidance(task.Instruction, attempt, failure)
			} else {
				instruction = task.Instruction
			}
			o.setTask(name, models.TaskStatusPending, decision.Reason)
			o.emitter.Emit(Event{
				Type: EventTaskRetry, RunID: runID, Task: name, Attempt: attempt,
				Status: string(models.TaskStatusPending), Message: decision.Reason, Decision: &decision,
			})
			o.appendEvent(runID, EventTaskRetry, fmt.Sprintf("%s attempt %d: %s", name, attempt+1, decision.Action))
			continue

		case models.ActionHaltRun:
			o.setTask(name, models.TaskStatusFailed, decision.Reason)
			o.emitFailed(runID, name, attempt, res, decision)
			o.halt(fmt.Sprintf("task %s: %s", name, decision.Reason), o.cancelRunningOnHalt)
			return

		default:
			o.setTask(name, models.TaskStatusFailed, decision.Reason)
			o.emitFailed(runID, name, attempt, res, decision)
			o.skipDependents(name)
			o.persistRun(models.RunStatusRunning, "")
			return
		}
	}
}

// launch opens the session record and runs one attempt.
func (o *Orchestrator) launch(ctx context.Context, a worker.Assignment, log *zap.Logger) *worker.Result {
	o.updateCounters(func(c *models.Counters) { c.SessionsLaunched++ })
	o.emitter.Emit(Event{
		Type: EventTaskStarted, RunID: a.RunID, Task: a.TaskName, Attempt: a.Attempt,
		Status: string(models.TaskStatusStarting),
	})

	rec, err := o.store.OpenSession(a.RunID, a.TaskName, a.Attempt)
	if err != nil {
		log.Error("open session record", zap.Error(err))
		return worker.Failed(a, fmt.Errorf("open session record: %w", err))
	}

	tee := &recordTee{RecordWriter: rec, o: o, runID: a.RunID, task: a.TaskName, attempt: a.Attempt}
	o.metrics.SessionStarted()
	res := o.launcher.Launch(ctx, a, tee)
	o.metrics.SessionFinished(&res.WorkerSession, res.OutputBytes)
	o.updateCounters(func(c *models.Counters) { c.OutputBytes += res.OutputBytes })
	return res
}

func (o *Orchestrator) emitFailed(runID, name string, attempt int, res *worker.Result, decision models.RecoveryDecision) {
	o.emitter.Emit(Event{
		Type: EventTaskFailed, RunID: runID, Task: name, Attempt: attempt,
		Status: string(models.TaskStatusFailed), Message: decision.Reason,
		Decision: &decision, Duration: res.Duration(),
	})
}

// skipDependents marks every pending task downstream of name as SKIPPED.
func (o *Orchestrator) skipDependents(name string) {
	reason := fmt.Sprintf("dependency %s failed", name)
	for _, dep := range o.graph.TransitiveDependents(name) {
		o.mu.Lock()
		pending := o.tasks[dep].status == models.TaskStatusPending
		o.mu.Unlock()
		if !pending {
			continue
		}
		o.skip(dep, reason)
	}
}

// skipRemaining marks every task that never ran as SKIPPED.
func (o *Orchestrator) skipRemaining() {
	reason := o.haltReasonOrDefault()
	for _, t := range o.run.Tasks {
		o.mu.Lock()
		pending := o.tasks[t.Name].status == models.TaskStatusPending
		o.mu.Unlock()
		if pending {
			o.skip(t.Name, reason)
		}
	}
}

func (o *Orchestrator) skip(name, reason string) {
	o.updateCounters(func(c *models.Counters) { c.Skipped++ })
	o.setTask(name, models.TaskStatusSkipped, reason)
	o.emitter.Emit(Event{
		Type: EventTaskSkipped, RunID: o.run.ID, Task: name,
		Status: string(models.TaskStatusSkipped), Message: reason,
	})
	o.appendEvent(o.run.ID, EventTaskSkipped, fmt.Sprintf("%s: %s", name, reason))
}

func (o *Orchestrator) haltReasonOrDefault() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.haltReason != "" {
		return ReasonRunHalted + ": " + o.haltReason
	}
	return ReasonRunHalted
}

func (o *Orchestrator) terminationReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("cancelled: %v", context.Cause(ctx))
	}
	return o.haltReasonOrDefault()
}

// recordTee forwards a session's record writes to the store and mirrors them
// into the coordinator's view and event stream.
type recordTee struct {
	state.RecordWriter
	o       *Orchestrator
	runID   string
	task    string
	attempt int
}

func (t *recordTee) SetStatus(status models.TaskStatus, detail string) error {
	err := t.RecordWriter.SetStatus(status, detail)
	if status == models.TaskStatusRunning {
		t.o.setTask(t.task, models.TaskStatusRunning, "")
	}
	return err
}

func (t *recordTee) Progress(text string) error {
	err := t.RecordWriter.Progress(text)
	t.o.setProgress(t.task, text)
	t.o.emitter.Emit(Event{
		Type: EventTaskProgress, RunID: t.runID, Task: t.task, Attempt: t.attempt,
		Status: string(models.TaskStatusRunning), Message: text,
	})
	return err
}
