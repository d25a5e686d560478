package orchestrator

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/internal/worker"
	"github.com/ShayCichocki/ccc/internal/workspace"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// Launcher runs one worker session to completion.
type Launcher interface {
	Launch(ctx context.Context, a worker.Assignment, rec state.RecordWriter) *worker.Result
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, a worker.Assignment, rec state.RecordWriter) *worker.Result

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, a worker.Assignment, rec state.RecordWriter) *worker.Result {
	return f(ctx, a, rec)
}

// ProcessLauncher prepares a fresh workspace and a fresh worker.Handle for
// every attempt.
type ProcessLauncher struct {
	Executor      worker.Executor
	WorkspaceRoot string
	Options       []worker.Option
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(ctx context.Context, a worker.Assignment, rec state.RecordWriter) *worker.Result {
	ws, err := workspace.Prepare(l.WorkspaceRoot, a.RunID, &models.Task{Name: a.TaskName, Input: a.Input}, a.Attempt, a.Instruction)
	if err != nil {
		err = fmt.Errorf("prepare workspace: %w", err)
		if rec != nil {
			_ = rec.SetStatus(models.TaskStatusFailed, err.Error())
		}
		return worker.Failed(a, err)
	}
	a.Workspace = ws.Dir
	return worker.NewHandle(l.Executor, l.Options...).Launch(ctx, a, rec)
}
