package localstore

import (
	"context"
	"fmt"

	"github.com/openfield/crmsync/internal/model"
)

// SaveTaxonomyItem writes a reference-list entry through the
// application path, stamping UpdatedAt.
func (s *Store) SaveTaxonomyItem(ctx context.Context, i *model.TaxonomyItem) error {
	i.UpdatedAt = model.Now()
	return s.putTaxonomyItem(ctx, i)
}

// ApplyTaxonomyItem writes a reference-list entry through the sync
// path, fields verbatim.
func (s *Store) ApplyTaxonomyItem(ctx context.Context, i *model.TaxonomyItem) error {
	return s.putTaxonomyItem(ctx, i)
}

func (s *Store) putTaxonomyItem(ctx context.Context, i *model.TaxonomyItem) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO taxonomies (type, local_id, name, position, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(type, local_id) DO UPDATE SET
		name = excluded.name,
		position = excluded.position,
		updated_at = excluded.updated_at`,
		i.Type.String(), i.LocalID, i.Name, i.Position, i.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert taxonomy item %s: %w", i.Key(), err)
	}

	s.notify(model.Taxonomies)
	return nil
}

// DeleteTaxonomyItem removes one reference-list entry. Idempotent.
func (s *Store) DeleteTaxonomyItem(ctx context.Context, typ model.TaxonomyType, localID int64) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM taxonomies WHERE type = ? AND local_id = ?`, typ.String(), localID); err != nil {
		return fmt.Errorf("failed to delete taxonomy item %s_%d: %w", typ, localID, err)
	}
	s.notify(model.Taxonomies)
	return nil
}

// DeleteAllTaxonomy empties the collection. Used by the first-ever
// pull, which replaces rather than merges the reference lists.
func (s *Store) DeleteAllTaxonomy(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM taxonomies`); err != nil {
		return fmt.Errorf("failed to clear taxonomies: %w", err)
	}
	s.notify(model.Taxonomies)
	return nil
}

// TaxonomyItems returns a full snapshot ordered by type then position.
func (s *Store) TaxonomyItems(ctx context.Context) ([]model.TaxonomyItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT type, local_id, name, position, updated_at
	FROM taxonomies ORDER BY type, position, local_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxonomies: %w", err)
	}
	defer rows.Close()

	var out []model.TaxonomyItem
	for rows.Next() {
		var i model.TaxonomyItem
		var typ string
		if err := rows.Scan(&typ, &i.LocalID, &i.Name, &i.Position, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan taxonomy item: %w", err)
		}
		i.Type = model.ParseTaxonomyType(typ)
		out = append(out, i)
	}
	return out, rows.Err()
}
