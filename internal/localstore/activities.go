package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/openfield/crmsync/internal/model"
)

// SaveActivity writes an activity log entry through the application
// path, stamping UpdatedAt. A zero ID inserts and assigns a.ID.
func (s *Store) SaveActivity(ctx context.Context, a *model.ActivityLogEntry) error {
	a.UpdatedAt = model.Now()
	if a.OccurredAt == "" {
		a.OccurredAt = a.UpdatedAt
	}

	meta, err := json.Marshal(metaOrEmpty(a.Meta))
	if err != nil {
		return fmt.Errorf("failed to marshal activity meta: %w", err)
	}

	if a.ID == 0 {
		res, err := s.conn.ExecContext(ctx, `
		INSERT INTO activities (contact_id, kind, summary, meta, occurred_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
			a.ContactID, a.Kind.String(), a.Summary, string(meta), a.OccurredAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		a.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read activity id: %w", err)
		}
	} else {
		_, err := s.conn.ExecContext(ctx, `
		INSERT INTO activities (id, contact_id, kind, summary, meta, occurred_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact_id = excluded.contact_id,
			kind = excluded.kind,
			summary = excluded.summary,
			meta = excluded.meta,
			occurred_at = excluded.occurred_at,
			updated_at = excluded.updated_at`,
			a.ID, a.ContactID, a.Kind.String(), a.Summary, string(meta), a.OccurredAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert activity %d: %w", a.ID, err)
		}
	}

	s.notify(model.Activities)
	return nil
}

// ApplyActivity writes an activity through the sync path, all fields
// verbatim.
func (s *Store) ApplyActivity(ctx context.Context, a *model.ActivityLogEntry) error {
	meta, err := json.Marshal(metaOrEmpty(a.Meta))
	if err != nil {
		return fmt.Errorf("failed to marshal activity meta: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO activities (id, contact_id, kind, summary, meta, occurred_at, updated_at, last_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		contact_id = excluded.contact_id,
		kind = excluded.kind,
		summary = excluded.summary,
		meta = excluded.meta,
		occurred_at = excluded.occurred_at,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at`,
		a.ID, a.ContactID, a.Kind.String(), a.Summary, string(meta),
		a.OccurredAt, a.UpdatedAt, a.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to apply activity %d: %w", a.ID, err)
	}

	s.notify(model.Activities)
	return nil
}

// SetActivitySynced advances the entry's LastSyncedAt after a confirmed
// remote upsert.
func (s *Store) SetActivitySynced(ctx context.Context, id int64, ts string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE activities SET last_synced_at = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("failed to mark activity %d synced: %w", id, err)
	}
	s.notify(model.Activities)
	return nil
}

// DeleteActivity removes an activity log entry. Idempotent.
func (s *Store) DeleteActivity(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete activity %d: %w", id, err)
	}
	s.notify(model.Activities)
	return nil
}

// GetActivity reads one activity log entry.
func (s *Store) GetActivity(ctx context.Context, id int64) (model.ActivityLogEntry, bool, error) {
	row := s.conn.QueryRowContext(ctx, activityColumns+` WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return model.ActivityLogEntry{}, false, nil
	}
	if err != nil {
		return model.ActivityLogEntry{}, false, fmt.Errorf("failed to read activity %d: %w", id, err)
	}
	return a, true, nil
}

// Activities returns a full snapshot of the collection ordered by id.
func (s *Store) Activities(ctx context.Context) ([]model.ActivityLogEntry, error) {
	rows, err := s.conn.QueryContext(ctx, activityColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityLogEntry
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const activityColumns = `
SELECT id, contact_id, kind, summary, meta, occurred_at, updated_at, last_synced_at
FROM activities`

func scanActivity(row rowScanner) (model.ActivityLogEntry, error) {
	var a model.ActivityLogEntry
	var kind, meta string
	err := row.Scan(&a.ID, &a.ContactID, &kind, &a.Summary, &meta,
		&a.OccurredAt, &a.UpdatedAt, &a.LastSyncedAt)
	if err != nil {
		return model.ActivityLogEntry{}, err
	}
	a.Kind = model.ParseActivityKind(kind)
	if err := json.Unmarshal([]byte(meta), &a.Meta); err != nil {
		a.Meta = nil
	}
	if len(a.Meta) == 0 {
		a.Meta = nil
	}
	return a, nil
}

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
