package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// CreateRun inserts a run in CREATED state with every task PENDING.
func (db *DB) CreateRun(run *models.Run) error {
	definition, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run definition: %w", err)
	}
	counters, err := json.Marshal(models.Counters{})
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	now := formatTime(time.Now())

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, name, mode, max_parallel, status, definition, counters, owner_pid, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.Name, string(run.Mode), run.MaxParallel, string(models.RunStatusCreated),
			string(definition), string(counters), os.Getpid(), formatTime(created))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i, t := range run.Tasks {
			_, err := tx.Exec(`
				INSERT INTO tasks (run_id, name, position, component, critical, status, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, run.ID, t.Name, i, t.Component, boolToInt(t.Critical), string(models.TaskStatusPending), now)
			if err != nil {
				return fmt.Errorf("insert task %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

// UpdateRun sets the run status. started_at is stamped on the first
// transition to RUNNING and ended_at on the first terminal status.
func (db *DB) UpdateRun(runID string, status models.RunStatus, reason string, counters models.Counters) error {
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := formatTime(time.Now())

	var startedAt, endedAt any
	if status == models.RunStatusRunning {
		startedAt = now
	}
	if status.Terminal() {
		endedAt = now
	}

	result, err := db.Exec(`
		UPDATE runs SET status = ?, reason = ?, counters = ?,
			started_at = COALESCE(started_at, ?),
			ended_at = COALESCE(ended_at, ?)
		WHERE id = ?
	`, string(status), reason, string(data), startedAt, endedAt, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return requireRow(result, runID)
}

// UpdateTask sets the coordinator's view of a task.
func (db *DB) UpdateTask(runID, name string, status models.TaskStatus, attempts int, reason string) error {
	result, err := db.Exec(`
		UPDATE tasks SET status = ?, attempts = ?, reason = ?, updated_at = ?
		WHERE run_id = ? AND name = ?
	`, string(status), attempts, reason, formatTime(time.Now()), runID, name)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result, runID+"/"+name)
}

// AppendEvent adds an entry to the run's event log.
func (db *DB) AppendEvent(runID, kind, message string) error {
	_, err := db.Exec(`
		INSERT INTO run_events (run_id, kind, message, created_at) VALUES (?, ?, ?, ?)
	`, runID, kind, message, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// OpenSession creates the record of one attempt and returns a writer bound to it.
func (db *DB) OpenSession(runID, task string, attempt int) (RecordWriter, error) {
	_, err := db.Exec(`
		INSERT INTO session_records (run_id, task_name, attempt, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_name, attempt) DO UPDATE SET
			status = excluded.status, progress = '', detail = '', updated_at = excluded.updated_at
	`, runID, task, attempt, string(models.TaskStatusPending), formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("open session record: %w", err)
	}
	return &dbRecord{db: db, runID: runID, task: task, attempt: attempt}, nil
}

// dbRecord is a RecordWriter keyed to a single row.
type dbRecord struct {
	db      *DB
	runID   string
	task    string
	attempt int
}

func (r *dbRecord) SetStatus(status models.TaskStatus, detail string) error {
	_, err := r.db.Exec(`
		UPDATE session_records SET status = ?, detail = ?, updated_at = ?
		WHERE run_id = ? AND task_name = ? AND attempt = ?
	`, string(status), detail, formatTime(time.Now()), r.runID, r.task, r.attempt)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

func (r *dbRecord) Progress(text string) error {
	_, err := r.db.Exec(`
		UPDATE session_records SET progress = ?, updated_at = ?
		WHERE run_id = ? AND task_name = ? AND attempt = ?
	`, text, formatTime(time.Now()), r.runID, r.task, r.attempt)
	if err != nil {
		return fmt.Errorf("write session progress: %w", err)
	}
	return nil
}

// GetRun returns the run definition.
func (db *DB) GetRun(runID string) (*models.Run, error) {
	var definition string
	err := db.QueryRow(`SELECT definition FROM runs WHERE id = ?`, runID).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var run models.Run
	if err := json.Unmarshal([]byte(definition), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run definition: %w", err)
	}
	return &run, nil
}

const runColumns = `id, name, mode, max_parallel, status, reason, counters, owner_pid, created_at, started_at, ended_at`

func scanRun(scan func(dest ...any) error) (*models.RunSnapshot, error) {
	var (
		snap                   models.RunSnapshot
		mode, status, counters string
		createdAt              string
		startedAt, endedAt     sql.NullString
	)
	if err := scan(&snap.ID, &snap.Name, &mode, &snap.MaxParallel, &status, &snap.Reason,
		&counters, &snap.OwnerPID, &createdAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	snap.Mode = models.ExecutionMode(mode)
	snap.Status = models.RunStatus(status)
	if err := json.Unmarshal([]byte(counters), &snap.Counters); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	snap.CreatedAt = created
	snap.StartedAt = parseNullableTime(startedAt)
	snap.EndedAt = parseNullableTime(endedAt)
	return &snap, nil
}

// ListRuns returns run summaries, newest first. A limit <= 0 returns all runs.
func (db *DB) ListRuns(limit int) ([]models.RunSnapshot, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSnapshot
	for rows.Next() {
		snap, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *snap)
	}
	return runs, rows.Err()
}

// ListTasks returns the coordinator's view of each task in declaration
// order, with the latest progress line of each task's last attempt.
func (db *DB) ListTasks(runID string) ([]models.TaskSnapshot, error) {
	return listTasks(db, runID)
}

// querier is satisfied by *DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func listTasks(q querier, runID string) ([]models.TaskSnapshot, error) {
	rows, err := q.Query(`
		SELECT t.name, t.component, t.critical, t.status, t.attempts, t.reason, t.updated_at,
			COALESCE((
				SELECT r.progress FROM session_records r
				WHERE r.run_id = t.run_id AND r.task_name = t.name
				ORDER BY r.attempt DESC LIMIT 1
			), '')
		FROM tasks t WHERE t.run_id = ? ORDER BY t.position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskSnapshot
	for rows.Next() {
		var (
			ts              models.TaskSnapshot
			critical        int
			status, updated string
		)
		if err := rows.Scan(&ts.Name, &ts.Component, &critical, &status, &ts.Attempts,
			&ts.Reason, &updated, &ts.LastProgress); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		ts.Critical = critical != 0
		ts.Status = models.TaskStatus(status)
		if ts.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		tasks = append(tasks, ts)
	}
	return tasks, rows.Err()
}

// ListRecords returns every session record of the run.
func (db *DB) ListRecords(runID string) ([]models.StateRecord, error) {
	rows, err := db.Query(`
		SELECT r.task_name, r.attempt, r.status, r.progress, r.detail, r.updated_at
		FROM session_records r
		LEFT JOIN tasks t ON t.run_id = r.run_id AND t.name = r.task_name
		WHERE r.run_id = ?
		ORDER BY t.position, r.attempt
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []models.StateRecord
	for rows.Next() {
		rec := models.StateRecord{RunID: runID}
		var status, updated string
		if err := rows.Scan(&rec.TaskName, &rec.Attempt, &status, &rec.Progress, &rec.Detail, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Status = models.TaskStatus(status)
		if rec.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListEvents returns the most recent events of a run in chronological order.
// A limit <= 0 returns all events.
func (db *DB) ListEvents(runID string, limit int) ([]Event, error) {
	query := `SELECT id, kind, message, created_at FROM run_events WHERE run_id = ? ORDER BY id DESC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev := Event{RunID: runID}
		var created string
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Message, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseEvents(events)
	return events, nil
}

// Snapshot returns the run status with its per-task breakdown.
func (db *DB) Snapshot(runID string) (*models.RunSnapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	// One read transaction so the run row and task rows come from the same
	// database version.
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	snap, err := scanRun(tx.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	tasks, err := listTasks(tx, runID)
	if err != nil {
		return nil, err
	}
	snap.Tasks = tasks
	return snap, nil
}

func requireRow(result sql.Result, key string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverseEvents(events []Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
