package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/internal/state"
	"github.com/ShayCichocki/ccc/pkg/models"
)

func newTestManager(t *testing.T, l Launcher) *Manager {
	t.Helper()
	store, err := state.Open(state.BackendFiles, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(ManagerConfig{Launcher: l, Store: store})
}

func TestManager_SubmitWaitStatus(t *testing.T) {
	m := newTestManager(t, newFakeLauncher(nil))

	id, err := m.Submit(newRun(2, tk("A"), tk("B", "A")))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, snap.Status)

	stored, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Len(t, stored.Tasks, 2)
	assert.Equal(t, 0, m.Count())

	require.NoError(t, m.Stop())
}

func TestManager_SubmitRejectsInvalidRun(t *testing.T) {
	l := newFakeLauncher(nil)
	m := newTestManager(t, l)

	_, err := m.Submit(newRun(1, tk("A", "A")))
	assert.True(t, models.IsConfigurationError(err))
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, l.totalCalls())
	require.NoError(t, m.Stop())
}

func TestManager_Cancel(t *testing.T) {
	m := newTestManager(t, newFakeLauncher(map[string][]step{
		"slow": {completed(10 * time.Second)},
	}))

	id, err := m.Submit(newRun(1, tk("slow")))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.Cancel(id, "stop"))

	snap, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusHalted, snap.Status)
	require.NoError(t, m.Stop())
}

func TestManager_UnknownRun(t *testing.T) {
	m := newTestManager(t, newFakeLauncher(nil))
	_, err := m.Wait(context.Background(), "nope")
	assert.True(t, errors.Is(err, state.ErrNotFound))
	assert.True(t, errors.Is(m.Cancel("nope", ""), state.ErrNotFound))
	require.NoError(t, m.Stop())
}

func TestManager_StopCancelsRuns(t *testing.T) {
	m := newTestManager(t, newFakeLauncher(map[string][]step{
		"slow": {completed(10 * time.Second)},
	}))
	id, err := m.Submit(newRun(1, tk("slow")))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- m.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop should cancel running runs")
	}

	snap, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusHalted, snap.Status)
}
