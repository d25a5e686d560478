package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/ccc/pkg/models"
)

const (
	runFileName    = "run.json"
	eventsFileName = "events.jsonl"
	recordsDirName = "records"
)

// FileStore keeps one JSON file per session record under
// <dir>/<runID>/records/<task>.<attempt>.json, next to run.json and an
// append-only events.jsonl. Every JSON file is replaced through a temp file
// and rename, so readers never see a torn record.
type FileStore struct {
	dir string
	// mu serializes read-modify-write cycles on run.json and event appends.
	mu sync.Mutex
}

// fileRun is the on-disk form of run.json.
type fileRun struct {
	Definition *models.Run           `json:"definition"`
	Snapshot   models.RunSnapshot    `json:"snapshot"`
	EventSeq   int64                 `json:"event_seq"`
	Tasks      []models.TaskSnapshot `json:"tasks"`
}

// NewFileStore returns a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory of the store.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Migrate is a no-op; the file layout carries no schema version.
func (fs *FileStore) Migrate() error {
	return nil
}

// Close is a no-op.
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) runDir(runID string) string {
	return filepath.Join(fs.dir, runID)
}

func (fs *FileStore) recordPath(runID, task string, attempt int) string {
	return filepath.Join(fs.runDir(runID), recordsDirName, fmt.Sprintf("%s.%d.json", models.Slug(task), attempt))
}

// CreateRun writes run.json with every task PENDING.
func (fs *FileStore) CreateRun(run *models.Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.runDir(run.ID)
	if _, err := os.Stat(filepath.Join(dir, runFileName)); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := os.MkdirAll(filepath.Join(dir, recordsDirName), 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	now := time.Now().UTC()
	fr := &fileRun{
		Definition: run,
		Snapshot: models.RunSnapshot{
			ID:          run.ID,
			Name:        run.Name,
			Mode:        run.Mode,
			MaxParallel: run.MaxParallel,
			Status:      models.RunStatusCreated,
			CreatedAt:   created.UTC(),
			OwnerPID:    os.Getpid(),
		},
	}
	for _, t := range run.Tasks {
		fr.Tasks = append(fr.Tasks, models.TaskSnapshot{
			Name:      t.Name,
			Component: t.Component,
			Critical:  t.Critical,
			Status:    models.TaskStatusPending,
			UpdatedAt: now,
		})
	}
	return writeJSONAtomic(filepath.Join(dir, runFileName), fr)
}

func (fs *FileStore) loadRun(runID string) (*fileRun, error) {
	var fr fileRun
	if err := readJSON(filepath.Join(fs.runDir(runID), runFileName), &fr); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	return &fr, nil
}

func (fs *FileStore) updateRunFile(runID string, fn func(fr *fileRun) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fr, err := fs.loadRun(runID)
	if err != nil {
		return err
	}
	if err := fn(fr); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(fs.runDir(runID), runFileName), fr)
}

// UpdateRun sets the run status.
func (fs *FileStore) UpdateRun(runID string, status models.RunStatus, reason string, counters models.Counters) error {
	return fs.updateRunFile(runID, func(fr *fileRun) error {
		now := time.Now().UTC()
		fr.Snapshot.Status = status
		fr.Snapshot.Reason = reason
		fr.Snapshot.Counters = counters
		if status == models.RunStatusRunning && fr.Snapshot.StartedAt.IsZero() {
			fr.Snapshot.StartedAt = now
		}
		if status.Terminal() && fr.Snapshot.EndedAt.IsZero() {
			fr.Snapshot.EndedAt = now
		}
		return nil
	})
}

// UpdateTask sets the coordinator's view of a task.
func (fs *FileStore) UpdateTask(runID, name string, status models.TaskStatus, attempts int, reason string) error {
	return fs.updateRunFile(runID, func(fr *fileRun) error {
		for i := range fr.Tasks {
			if fr.Tasks[i].Name == name {
				fr.Tasks[i].Status = status
				fr.Tasks[i].Attempts = attempts
				fr.Tasks[i].Reason = reason
				fr.Tasks[i].UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		return fmt.Errorf("%s/%s: %w", runID, name, ErrNotFound)
	})
}

// AppendEvent appends one JSON line to events.jsonl.
func (fs *FileStore) AppendEvent(runID, kind, message string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fr, err := fs.loadRun(runID)
	if err != nil {
		return err
	}
	fr.EventSeq++
	ev := Event{ID: fr.EventSeq, RunID: runID, Kind: kind, Message: message, CreatedAt: time.Now().UTC()}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(fs.runDir(runID), eventsFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close events file: %w", err)
	}
	return writeJSONAtomic(filepath.Join(fs.runDir(runID), runFileName), fr)
}

// OpenSession writes the initial record file and returns a writer bound to it.
func (fs *FileStore) OpenSession(runID, task string, attempt int) (RecordWriter, error) {
	if _, err := os.Stat(filepath.Join(fs.runDir(runID), runFileName)); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	rec := &fileRecord{
		path: fs.recordPath(runID, task, attempt),
		record: models.StateRecord{
			RunID:     runID,
			TaskName:  task,
			Attempt:   attempt,
			Status:    models.TaskStatusPending,
			UpdatedAt: time.Now().UTC(),
		},
	}
	if err := rec.flush(); err != nil {
		return nil, err
	}
	return rec, nil
}

// fileRecord is a RecordWriter owning exactly one record file.
type fileRecord struct {
	path   string
	mu     sync.Mutex
	record models.StateRecord
}

func (r *fileRecord) SetStatus(status models.TaskStatus, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Status = status
	r.record.Detail = detail
	r.record.UpdatedAt = time.Now().UTC()
	return r.flushLocked()
}

func (r *fileRecord) Progress(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Progress = text
	r.record.UpdatedAt = time.Now().UTC()
	return r.flushLocked()
}

func (r *fileRecord) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *fileRecord) flushLocked() error {
	if err := writeJSONAtomic(r.path, r.record); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}

// GetRun returns the run definition.
func (fs *FileStore) GetRun(runID string) (*models.Run, error) {
	fr, err := fs.loadRun(runID)
	if err != nil {
		return nil, err
	}
	return fr.Definition, nil
}

// ListRuns returns run summaries, newest first. A limit <= 0 returns all runs.
func (fs *FileStore) ListRuns(limit int) ([]models.RunSnapshot, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []models.RunSnapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fr, err := fs.loadRun(e.Name())
		if err != nil {
			// Directories without run.json are not runs.
			continue
		}
		runs = append(runs, fr.Snapshot)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListTasks returns the coordinator's view of each task in declaration order.
func (fs *FileStore) ListTasks(runID string) ([]models.TaskSnapshot, error) {
	fr, err := fs.loadRun(runID)
	if err != nil {
		return nil, err
	}
	return fs.tasksOf(runID, fr)
}

// tasksOf builds the task rows of an already loaded run.json.
func (fs *FileStore) tasksOf(runID string, fr *fileRun) ([]models.TaskSnapshot, error) {
	records, err := fs.listRecords(runID, fr)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]models.StateRecord)
	for _, rec := range records {
		if cur, ok := latest[rec.TaskName]; !ok || rec.Attempt > cur.Attempt {
			latest[rec.TaskName] = rec
		}
	}
	tasks := append([]models.TaskSnapshot(nil), fr.Tasks...)
	for i := range tasks {
		tasks[i].LastProgress = latest[tasks[i].Name].Progress
	}
	return tasks, nil
}

// ListRecords returns every session record of the run.
func (fs *FileStore) ListRecords(runID string) ([]models.StateRecord, error) {
	fr, err := fs.loadRun(runID)
	if err != nil {
		return nil, err
	}
	return fs.listRecords(runID, fr)
}

func (fs *FileStore) listRecords(runID string, fr *fileRun) ([]models.StateRecord, error) {
	dir := filepath.Join(fs.runDir(runID), recordsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list records: %w", err)
	}

	position := make(map[string]int, len(fr.Tasks))
	for i, t := range fr.Tasks {
		position[t.Name] = i
	}

	var records []models.StateRecord
	for _, e := range entries {
		name := e.Name()
		// Skip in-flight temp files.
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		var rec models.StateRecord
		if err := readJSON(filepath.Join(dir, name), &rec); err != nil {
			return nil, fmt.Errorf("read record %s: %w", name, err)
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := position[records[i].TaskName], position[records[j].TaskName]
		if pi != pj {
			return pi < pj
		}
		return records[i].Attempt < records[j].Attempt
	})
	return records, nil
}

// ListEvents returns the most recent events of a run in chronological order.
func (fs *FileStore) ListEvents(runID string, limit int) ([]Event, error) {
	if _, err := fs.loadRun(runID); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(fs.runDir(runID), eventsFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A partially appended last line is skipped.
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Snapshot returns the run status with its per-task breakdown.
func (fs *FileStore) Snapshot(runID string) (*models.RunSnapshot, error) {
	fr, err := fs.loadRun(runID)
	if err != nil {
		return nil, err
	}
	tasks, err := fs.tasksOf(runID, fr)
	if err != nil {
		return nil, err
	}
	snap := fr.Snapshot
	snap.Tasks = tasks
	return &snap, nil
}

// PurgeRunsOlderThan removes finished runs created before the cutoff.
func (fs *FileStore) PurgeRunsOlderThan(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	runs, err := fs.ListRuns(0)
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var count int64
	for _, r := range runs {
		if !r.Status.Terminal() || !r.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(fs.runDir(r.ID)); err != nil {
			return count, fmt.Errorf("remove run %s: %w", r.ID, err)
		}
		count++
	}
	return count, nil
}

// writeJSONAtomic replaces path with the JSON encoding of v.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
