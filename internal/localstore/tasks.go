package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfield/crmsync/internal/model"
)

// SaveTask writes a task through the application path, stamping
// UpdatedAt. A zero ID inserts and assigns t.ID.
func (s *Store) SaveTask(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = model.Now()
	if t.CreatedAt == "" {
		t.CreatedAt = t.UpdatedAt
	}

	if t.ID == 0 {
		res, err := s.conn.ExecContext(ctx, `
		INSERT INTO tasks (contact_id, title, notes, due_at, priority_id, done, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ContactID, t.Title, t.Notes, t.DueAt, t.PriorityID, boolToInt(t.Done),
			t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		t.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read task id: %w", err)
		}
	} else {
		_, err := s.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, contact_id, title, notes, due_at, priority_id, done, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_id = excluded.contact_id,
			title = excluded.title,
			notes = excluded.notes,
			due_at = excluded.due_at,
			priority_id = excluded.priority_id,
			done = excluded.done,
			updated_at = excluded.updated_at`,
			t.ID, t.ContactID, t.Title, t.Notes, t.DueAt, t.PriorityID, boolToInt(t.Done),
			t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert task %d: %w", t.ID, err)
		}
	}

	s.notify(model.Tasks)
	return nil
}

// ApplyTask writes a task through the sync path, all fields verbatim.
func (s *Store) ApplyTask(ctx context.Context, t *model.Task) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO tasks (id, contact_id, title, notes, due_at, priority_id, done, created_at, updated_at, last_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		contact_id = excluded.contact_id,
		title = excluded.title,
		notes = excluded.notes,
		due_at = excluded.due_at,
		priority_id = excluded.priority_id,
		done = excluded.done,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at`,
		t.ID, t.ContactID, t.Title, t.Notes, t.DueAt, t.PriorityID, boolToInt(t.Done),
		t.CreatedAt, t.UpdatedAt, t.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to apply task %d: %w", t.ID, err)
	}

	s.notify(model.Tasks)
	return nil
}

// SetTaskSynced advances the task's LastSyncedAt after a confirmed
// remote upsert.
func (s *Store) SetTaskSynced(ctx context.Context, id int64, ts string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET last_synced_at = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("failed to mark task %d synced: %w", id, err)
	}
	s.notify(model.Tasks)
	return nil
}

// DeleteTask removes a task. Idempotent.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	s.notify(model.Tasks)
	return nil
}

// GetTask reads one task.
func (s *Store) GetTask(ctx context.Context, id int64) (model.Task, bool, error) {
	row := s.conn.QueryRowContext(ctx, taskColumns+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, fmt.Errorf("failed to read task %d: %w", id, err)
	}
	return t, true, nil
}

// Tasks returns a full snapshot of the collection ordered by id.
func (s *Store) Tasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.conn.QueryContext(ctx, taskColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const taskColumns = `
SELECT id, contact_id, title, notes, due_at, priority_id, done, created_at, updated_at, last_synced_at
FROM tasks`

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var done int
	err := row.Scan(&t.ID, &t.ContactID, &t.Title, &t.Notes, &t.DueAt,
		&t.PriorityID, &done, &t.CreatedAt, &t.UpdatedAt, &t.LastSyncedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.Done = done != 0
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
