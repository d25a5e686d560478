package state

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// ReasonCoordinatorExited is recorded on runs whose coordinating process
// died before the run reached a terminal status.
const ReasonCoordinatorExited = "coordinator exited before the run finished"

// InterruptedRun describes a run left non-terminal by a dead coordinator.
type InterruptedRun struct {
	RunID     string
	Status    models.RunStatus
	OwnerPID  int
	CreatedAt time.Time
}

// RecoveryManager handles detection and cleanup of interrupted runs.
type RecoveryManager struct {
	store Store
	alive func(pid int) bool
}

// NewRecoveryManager creates a new RecoveryManager over the given store.
func NewRecoveryManager(store Store) *RecoveryManager {
	return &RecoveryManager{store: store, alive: isProcessAlive}
}

// CheckForInterrupted returns every non-terminal run whose owning process is
// no longer alive.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedRun, error) {
	runs, err := rm.store.ListRuns(0)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var interrupted []InterruptedRun
	for _, r := range runs {
		if r.Status.Terminal() {
			continue
		}
		if r.OwnerPID > 0 && rm.alive(r.OwnerPID) {
			continue
		}
		interrupted = append(interrupted, InterruptedRun{
			RunID:     r.ID,
			Status:    r.Status,
			OwnerPID:  r.OwnerPID,
			CreatedAt: r.CreatedAt,
		})
	}
	return interrupted, nil
}

// Clean marks an interrupted run HALTED. Tasks that were in flight become
// TERMINATED and tasks that never started become SKIPPED, so the per-task
// breakdown stays complete.
func (rm *RecoveryManager) Clean(runID string) error {
	snap, err := rm.store.Snapshot(runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if snap.Status.Terminal() {
		return nil
	}

	for _, t := range snap.Tasks {
		var next models.TaskStatus
		switch t.Status {
		case models.TaskStatusStarting, models.TaskStatusRunning:
			next = models.TaskStatusTerminated
		case models.TaskStatusPending:
			next = models.TaskStatusSkipped
		default:
			continue
		}
		if err := rm.store.UpdateTask(runID, t.Name, next, t.Attempts, ReasonCoordinatorExited); err != nil {
			return fmt.Errorf("mark task %s: %w", t.Name, err)
		}
	}

	if err := rm.store.UpdateRun(runID, models.RunStatusHalted, ReasonCoordinatorExited, snap.Counters); err != nil {
		return fmt.Errorf("mark run halted: %w", err)
	}
	if err := rm.store.AppendEvent(runID, "run_recovered", ReasonCoordinatorExited); err != nil {
		return fmt.Errorf("record recovery event: %w", err)
	}
	return nil
}

// CleanAll cleans every interrupted run and returns their IDs.
func (rm *RecoveryManager) CleanAll() ([]string, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return nil, err
	}
	var cleaned []string
	for _, r := range interrupted {
		if err := rm.Clean(r.RunID); err != nil {
			return cleaned, err
		}
		cleaned = append(cleaned, r.RunID)
	}
	return cleaned, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
