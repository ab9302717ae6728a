package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petervdpas/lens/internal/tasks"
)

var _ tasks.Journal = (*DB)(nil)

// TaskRecord is one row of the task journal.
type TaskRecord struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     tasks.Status `json:"status"`
	Progress   any          `json:"progress,omitempty"`
	Reports    int          `json:"reports"`
	Error      string       `json:"error,omitempty"`
	QueuedAt   time.Time    `json:"queued_at"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
}

// TaskQueued records a new task.
func (d *DB) TaskQueued(id, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO tasks (id, name, status, queued_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO NOTHING`, id, name, string(tasks.StatusPending))
	return err
}

// TaskStarted marks a task as running.
func (d *DB) TaskStarted(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		UPDATE tasks SET status = ?, started_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(tasks.StatusRunning), id)
	return err
}

// TaskProgress stores the latest progress value as JSON.
func (d *DB) TaskProgress(id string, progress any) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.db.Exec(`
		UPDATE tasks SET progress = ?, reports = COALESCE(reports, 0) + 1
		WHERE id = ?`, string(b), id)
	return err
}

// TaskFinished stores the terminal status of a task.
func (d *DB) TaskFinished(id string, status tasks.Status, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		UPDATE tasks SET status = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(status), message, id)
	return err
}

// MarkInterrupted flags tasks left pending or running by a previous process.
func (d *DB) MarkInterrupted() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`
		UPDATE tasks SET status = ?, finished_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)`,
		string(tasks.StatusInterrupted), string(tasks.StatusPending), string(tasks.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// ListTasks returns the most recently queued tasks first. A limit of zero or
// less returns every row.
func (d *DB) ListTasks(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, name, status, COALESCE(progress, ''), COALESCE(reports, 0),
		       COALESCE(error, ''), queued_at, started_at, finished_at
		FROM tasks ORDER BY queued_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var status, progress string
		var queued, started, finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &status, &progress, &r.Reports,
			&r.Error, &queued, &started, &finished); err != nil {
			return nil, err
		}
		r.Status = tasks.Status(status)
		if progress != "" {
			if err := json.Unmarshal([]byte(progress), &r.Progress); err != nil {
				log.Debugf("task %s: bad progress %q: %v", r.ID, progress, err)
				r.Progress = progress
			}
		}
		r.QueuedAt = parseTime(r.ID, "queued_at", queued)
		r.StartedAt = parseTime(r.ID, "started_at", started)
		r.FinishedAt = parseTime(r.ID, "finished_at", finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// parseTime reads a SQLite timestamp. Unparseable values become the zero time.
func parseTime(id, column string, s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		log.Debugf("task %s: bad %s %q: %v", id, column, s.String, err)
		return time.Time{}
	}
	return t
}
