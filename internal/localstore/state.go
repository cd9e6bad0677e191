package localstore

import (
	"context"
	"database/sql"
	"fmt"
)

const watermarkKey = "last_sync_timestamp"

// Watermark returns the stamp of the last completed incremental pull,
// or "" when no pull has ever completed.
func (s *Store) Watermark(ctx context.Context) (string, error) {
	var v string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, watermarkKey).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read watermark: %w", err)
	}
	return v, nil
}

// SetWatermark persists the watermark stamp.
func (s *Store) SetWatermark(ctx context.Context, ts string) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey, ts)
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

// ClearWatermark removes the watermark so the next pull fetches
// everything.
func (s *Store) ClearWatermark(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_state WHERE key = ?`, watermarkKey); err != nil {
		return fmt.Errorf("failed to clear watermark: %w", err)
	}
	return nil
}

// Settings returns the local copy of the remote settings document.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// PutSettings upserts the given settings keys, leaving others alone.
func (s *Store) PutSettings(ctx context.Context, kv map[string]string) error {
	for k, v := range kv {
		_, err := s.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			return fmt.Errorf("failed to write setting %q: %w", k, err)
		}
	}
	return nil
}
