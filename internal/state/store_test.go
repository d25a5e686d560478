package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// backends opens every store implementation in a fresh directory.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	stores := make(map[string]Store)
	for _, backend := range []string{BackendSQLite, BackendFiles} {
		store, err := Open(backend, t.TempDir())
		require.NoError(t, err, backend)
		t.Cleanup(func() { store.Close() })
		stores[backend] = store
	}
	return stores
}

func sampleRun(id string) *models.Run {
	return &models.Run{
		ID:          id,
		Name:        "sample",
		MaxParallel: 2,
		Mode:        models.ModeParallel,
		CreatedAt:   time.Now(),
		Tasks: []*models.Task{
			{Name: "A", Instruction: "do A", Component: "backend"},
			{Name: "B", Instruction: "do B"},
			{Name: "C", Instruction: "do C", DependsOn: []string{"A", "B"}, Critical: true},
		},
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("run-1")
			require.NoError(t, store.CreateRun(run))

			snap, err := store.Snapshot("run-1")
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusCreated, snap.Status)
			assert.True(t, snap.StartedAt.IsZero())
			require.Len(t, snap.Tasks, 3)
			assert.Equal(t, []string{"A", "B", "C"}, []string{snap.Tasks[0].Name, snap.Tasks[1].Name, snap.Tasks[2].Name})
			assert.Equal(t, models.TaskStatusPending, snap.Tasks[2].Status)
			assert.True(t, snap.Tasks[2].Critical)
			assert.Equal(t, "backend", snap.Tasks[0].Component)

			require.NoError(t, store.UpdateRun("run-1", models.RunStatusRunning, "", models.Counters{}))
			require.NoError(t, store.UpdateTask("run-1", "A", models.TaskStatusCompleted, 1, ""))
			require.NoError(t, store.UpdateTask("run-1", "B", models.TaskStatusFailed, 3, "tests failed"))
			require.NoError(t, store.UpdateTask("run-1", "C", models.TaskStatusSkipped, 0, "dependency B failed"))

			counters := models.Counters{SessionsLaunched: 4, Retries: 2, Failures: 3, Skipped: 1}
			require.NoError(t, store.UpdateRun("run-1", models.RunStatusPartiallyCompleted, "", counters))

			snap, err = store.Snapshot("run-1")
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusPartiallyCompleted, snap.Status)
			assert.Equal(t, counters, snap.Counters)
			assert.False(t, snap.StartedAt.IsZero())
			assert.False(t, snap.EndedAt.IsZero())

			b, ok := snap.TaskByName("B")
			require.True(t, ok)
			assert.Equal(t, models.TaskStatusFailed, b.Status)
			assert.Equal(t, 3, b.Attempts)
			assert.Equal(t, "tests failed", b.Reason)

			def, err := store.GetRun("run-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, def.Task("C").DependsOn)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Snapshot("missing")
			assert.True(t, errors.Is(err, ErrNotFound), "Snapshot: %v", err)

			_, err = store.GetRun("missing")
			assert.True(t, errors.Is(err, ErrNotFound), "GetRun: %v", err)

			err = store.UpdateRun("missing", models.RunStatusRunning, "", models.Counters{})
			assert.True(t, errors.Is(err, ErrNotFound), "UpdateRun: %v", err)

			require.NoError(t, store.CreateRun(sampleRun("run-1")))
			err = store.UpdateTask("run-1", "ghost", models.TaskStatusRunning, 1, "")
			assert.True(t, errors.Is(err, ErrNotFound), "UpdateTask: %v", err)
		})
	}
}

func TestStore_SessionRecords(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateRun(sampleRun("run-1")))

			a1, err := store.OpenSession("run-1", "A", 1)
			require.NoError(t, err)
			require.NoError(t, a1.SetStatus(models.TaskStatusRunning, "pid 42"))
			require.NoError(t, a1.Progress("compiling"))
			require.NoError(t, a1.SetStatus(models.TaskStatusFailed, "exit 1"))

			a2, err := store.OpenSession("run-1", "A", 2)
			require.NoError(t, err)
			require.NoError(t, a2.Progress("linking"))

			b1, err := store.OpenSession("run-1", "B", 1)
			require.NoError(t, err)
			require.NoError(t, b1.Progress("writing tests"))

			records, err := store.ListRecords("run-1")
			require.NoError(t, err)
			require.Len(t, records, 3)

			assert.Equal(t, "A", records[0].TaskName)
			assert.Equal(t, 1, records[0].Attempt)
			assert.Equal(t, models.TaskStatusFailed, records[0].Status)
			assert.Equal(t, "compiling", records[0].Progress)
			assert.Equal(t, "exit 1", records[0].Detail)

			assert.Equal(t, "A", records[1].TaskName)
			assert.Equal(t, 2, records[1].Attempt)
			assert.Equal(t, models.TaskStatusPending, records[1].Status)

			assert.Equal(t, "B", records[2].TaskName)

			tasks, err := store.ListTasks("run-1")
			require.NoError(t, err)
			assert.Equal(t, "linking", tasks[0].LastProgress)
			assert.Equal(t, "writing tests", tasks[1].LastProgress)
			assert.Empty(t, tasks[2].LastProgress)
		})
	}
}

func TestStore_ConcurrentRecordWriters(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("run-1")
			require.NoError(t, store.CreateRun(run))

			var wg sync.WaitGroup
			for _, task := range run.Tasks {
				w, err := store.OpenSession("run-1", task.Name, 1)
				require.NoError(t, err)
				wg.Add(1)
				go func(name string, w RecordWriter) {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						assert.NoError(t, w.Progress(fmt.Sprintf("%s line %d", name, i)))
					}
				}(task.Name, w)
			}
			wg.Wait()

			records, err := store.ListRecords("run-1")
			require.NoError(t, err)
			require.Len(t, records, 3)
			for _, rec := range records {
				assert.Equal(t, rec.TaskName+" line 19", rec.Progress)
			}
		})
	}
}

func TestStore_SnapshotIsConsistent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateRun(sampleRun("run-1")))

			// Every write pair keeps A's attempts equal to, or one ahead of,
			// the launched-sessions counter.
			const rounds = 150
			done := make(chan struct{})
			var writeErr error
			go func() {
				defer close(done)
				for i := 1; i <= rounds; i++ {
					if writeErr = store.UpdateTask("run-1", "A", models.TaskStatusRunning, i, ""); writeErr != nil {
						return
					}
					if writeErr = store.UpdateRun("run-1", models.RunStatusRunning, "", models.Counters{SessionsLaunched: i}); writeErr != nil {
						return
					}
				}
			}()

			for reading := true; reading; {
				select {
				case <-done:
					reading = false
				default:
				}
				snap, err := store.Snapshot("run-1")
				require.NoError(t, err)
				a, ok := snap.TaskByName("A")
				require.True(t, ok)
				diff := a.Attempts - snap.Counters.SessionsLaunched
				require.True(t, diff == 0 || diff == 1,
					"attempts %d vs sessions %d", a.Attempts, snap.Counters.SessionsLaunched)
			}
			require.NoError(t, writeErr)
		})
	}
}

func TestStore_Events(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateRun(sampleRun("run-1")))
			for i := 0; i < 5; i++ {
				require.NoError(t, store.AppendEvent("run-1", "task_progress", fmt.Sprintf("event %d", i)))
			}

			all, err := store.ListEvents("run-1", 0)
			require.NoError(t, err)
			require.Len(t, all, 5)
			assert.Equal(t, "event 0", all[0].Message)

			last, err := store.ListEvents("run-1", 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "event 3", last[0].Message)
			assert.Equal(t, "event 4", last[1].Message)
			assert.Less(t, last[0].ID, last[1].ID)
		})
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().Add(-time.Hour)
			for i, id := range []string{"old", "mid", "new"} {
				r := sampleRun(id)
				r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, store.CreateRun(r))
			}

			runs, err := store.ListRuns(0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "new", runs[0].ID)
			assert.Equal(t, "old", runs[2].ID)
			assert.Empty(t, runs[0].Tasks)

			limited, err := store.ListRuns(1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "new", limited[0].ID)
		})
	}
}

func TestStore_Purge(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			old := sampleRun("old")
			old.CreatedAt = time.Now().Add(-48 * time.Hour)
			require.NoError(t, store.CreateRun(old))
			require.NoError(t, store.UpdateRun("old", models.RunStatusCompleted, "", models.Counters{}))

			live := sampleRun("live")
			live.CreatedAt = time.Now().Add(-48 * time.Hour)
			require.NoError(t, store.CreateRun(live))

			require.NoError(t, store.CreateRun(sampleRun("fresh")))

			purger, ok := store.(Purger)
			require.True(t, ok)
			n, err := purger.PurgeRunsOlderThan(24 * time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = store.Snapshot("old")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = store.Snapshot("live")
			assert.NoError(t, err)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}

func TestWatchDirs(t *testing.T) {
	assert.Equal(t, []string{"/s"}, WatchDirs(BackendSQLite, "/s", "r1"))
	assert.Equal(t, []string{"/s/runs/r1", "/s/runs/r1/records"}, WatchDirs(BackendFiles, "/s", "r1"))
}
