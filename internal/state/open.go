package state

import (
	"fmt"
	"path/filepath"
	"time"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFiles  = "files"
)

// Purger removes finished runs.
type Purger interface {
	PurgeRunsOlderThan(olderThan time.Duration) (int64, error)
}

var (
	_ Purger = (*DB)(nil)
	_ Purger = (*FileStore)(nil)
)

// Open opens the configured backend inside stateDir and applies migrations.
func Open(backend, stateDir string) (Store, error) {
	var (
		store Store
		err   error
	)
	switch backend {
	case "", BackendSQLite:
		store, err = OpenDB(DBPath(stateDir))
	case BackendFiles:
		store, err = NewFileStore(filepath.Join(stateDir, "runs"))
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate state store: %w", err)
	}
	return store, nil
}

// WatchDirs returns the directories whose changes indicate new state for
// runID under the given backend. Some may not exist yet.
func WatchDirs(backend, stateDir, runID string) []string {
	if backend == BackendFiles {
		runDir := filepath.Join(stateDir, "runs", runID)
		return []string{runDir, filepath.Join(runDir, recordsDirName)}
	}
	return []string{stateDir}
}
