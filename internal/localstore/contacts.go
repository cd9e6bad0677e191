package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/openfield/crmsync/internal/model"
)

// SaveContact writes a contact through the application path, stamping
// UpdatedAt (and CreatedAt on first write). A zero ID inserts a new
// row and assigns c.ID. LastSyncedAt is left untouched so the record
// shows up dirty on the next push cycle.
func (s *Store) SaveContact(ctx context.Context, c *model.Contact) error {
	c.UpdatedAt = model.Now()
	if c.CreatedAt == "" {
		c.CreatedAt = c.UpdatedAt
	}

	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	if c.ID == 0 {
		res, err := s.conn.ExecContext(ctx, `
		INSERT INTO contacts (name, company, phone, email, notes, stage_id, segment_id, source_id, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Name, c.Company, c.Phone, c.Email, c.Notes,
			c.StageID, c.SegmentID, c.SourceID, string(labels),
			c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert contact: %w", err)
		}
		c.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read contact id: %w", err)
		}
	} else {
		_, err := s.conn.ExecContext(ctx, `
		INSERT INTO contacts (id, name, company, phone, email, notes, stage_id, segment_id, source_id, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			company = excluded.company,
			phone = excluded.phone,
			email = excluded.email,
			notes = excluded.notes,
			stage_id = excluded.stage_id,
			segment_id = excluded.segment_id,
			source_id = excluded.source_id,
			labels = excluded.labels,
			updated_at = excluded.updated_at`,
			c.ID, c.Name, c.Company, c.Phone, c.Email, c.Notes,
			c.StageID, c.SegmentID, c.SourceID, string(labels),
			c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert contact %d: %w", c.ID, err)
		}
	}

	s.notify(model.Contacts)
	return nil
}

// ApplyContact writes a contact through the sync path: every field
// lands verbatim, LastSyncedAt included.
func (s *Store) ApplyContact(ctx context.Context, c *model.Contact) error {
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO contacts (id, name, company, phone, email, notes, stage_id, segment_id, source_id, labels, created_at, updated_at, last_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		company = excluded.company,
		phone = excluded.phone,
		email = excluded.email,
		notes = excluded.notes,
		stage_id = excluded.stage_id,
		segment_id = excluded.segment_id,
		source_id = excluded.source_id,
		labels = excluded.labels,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at`,
		c.ID, c.Name, c.Company, c.Phone, c.Email, c.Notes,
		c.StageID, c.SegmentID, c.SourceID, string(labels),
		c.CreatedAt, c.UpdatedAt, c.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to apply contact %d: %w", c.ID, err)
	}

	s.notify(model.Contacts)
	return nil
}

// SetContactSynced advances the contact's LastSyncedAt after a
// confirmed remote upsert. UpdatedAt is deliberately not refreshed.
func (s *Store) SetContactSynced(ctx context.Context, id int64, ts string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE contacts SET last_synced_at = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("failed to mark contact %d synced: %w", id, err)
	}
	s.notify(model.Contacts)
	return nil
}

// DeleteContact removes a contact. Idempotent.
func (s *Store) DeleteContact(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete contact %d: %w", id, err)
	}
	s.notify(model.Contacts)
	return nil
}

// GetContact reads one contact. The second return is false when the
// row does not exist.
func (s *Store) GetContact(ctx context.Context, id int64) (model.Contact, bool, error) {
	row := s.conn.QueryRowContext(ctx, contactColumns+` WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return model.Contact{}, false, nil
	}
	if err != nil {
		return model.Contact{}, false, fmt.Errorf("failed to read contact %d: %w", id, err)
	}
	return c, true, nil
}

// Contacts returns a full snapshot of the collection ordered by id.
func (s *Store) Contacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.conn.QueryContext(ctx, contactColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const contactColumns = `
SELECT id, name, company, phone, email, notes, stage_id, segment_id, source_id, labels, created_at, updated_at, last_synced_at
FROM contacts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (model.Contact, error) {
	var c model.Contact
	var labels string
	err := row.Scan(&c.ID, &c.Name, &c.Company, &c.Phone, &c.Email, &c.Notes,
		&c.StageID, &c.SegmentID, &c.SourceID, &labels,
		&c.CreatedAt, &c.UpdatedAt, &c.LastSyncedAt)
	if err != nil {
		return model.Contact{}, err
	}
	if err := json.Unmarshal([]byte(labels), &c.Labels); err != nil {
		// A corrupt labels column loses the labels, not the contact.
		c.Labels = nil
	}
	return c, nil
}
