package engine

import (
	"context"
	"time"

	"github.com/openfield/crmsync/internal/mapper"
	"github.com/openfield/crmsync/internal/model"
	"github.com/openfield/crmsync/internal/remote"
)

// pushRecord is the collection-agnostic view the push side works on:
// identity, the two stamps that decide dirtiness, and the encoded
// document fields.
type pushRecord struct {
	docID        string
	updatedAt    string
	lastSyncedAt string
	fields       map[string]any
}

// collection describes one synchronized collection. The four
// collections share all sync machinery and differ only in these
// closures plus the taxonomy set-reconciliation flag.
type collection struct {
	name     model.Collection
	debounce time.Duration

	// records snapshots the local collection for a push cycle.
	records func(ctx context.Context) ([]pushRecord, error)

	// apply lands a remote document locally through the mapper,
	// clearing dirty state (LastSyncedAt := UpdatedAt).
	apply func(ctx context.Context, doc remote.Document) error

	// remove deletes the local row matching a remote deletion event.
	// Only the document id is available at that point.
	remove func(ctx context.Context, docID string) error

	// markSynced advances LastSyncedAt after a confirmed upsert.
	// Nil for taxonomy, which has no per-item dirty tracking.
	markSynced func(ctx context.Context, docID, ts string) error

	// setReconcile switches the push cycle to whole-set semantics:
	// push every record and delete remote keys absent locally.
	setReconcile bool
}

func (e *Engine) buildCollections() []*collection {
	return []*collection{
		{
			name:       model.Contacts,
			debounce:   e.cfg.Debounce,
			records:    e.contactRecords,
			apply:      e.applyContactDoc,
			remove:     e.removeByLocalID(e.local.DeleteContact),
			markSynced: e.markSyncedByLocalID(e.local.SetContactSynced),
		},
		{
			name:       model.Tasks,
			debounce:   e.cfg.Debounce,
			records:    e.taskRecords,
			apply:      e.applyTaskDoc,
			remove:     e.removeByLocalID(e.local.DeleteTask),
			markSynced: e.markSyncedByLocalID(e.local.SetTaskSynced),
		},
		{
			name:       model.Activities,
			debounce:   e.cfg.Debounce,
			records:    e.activityRecords,
			apply:      e.applyActivityDoc,
			remove:     e.removeByLocalID(e.local.DeleteActivity),
			markSynced: e.markSyncedByLocalID(e.local.SetActivitySynced),
		},
		{
			name:         model.Taxonomies,
			debounce:     e.cfg.TaxonomyDebounce,
			records:      e.taxonomyRecords,
			apply:        e.applyTaxonomyDoc,
			remove:       e.removeTaxonomy,
			setReconcile: true,
		},
	}
}

func (e *Engine) contactRecords(ctx context.Context) ([]pushRecord, error) {
	contacts, err := e.local.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pushRecord, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, pushRecord{
			docID:        mapper.DocID(c.ID),
			updatedAt:    c.UpdatedAt,
			lastSyncedAt: c.LastSyncedAt,
			fields:       mapper.EncodeContact(c),
		})
	}
	return out, nil
}

func (e *Engine) taskRecords(ctx context.Context) ([]pushRecord, error) {
	tasks, err := e.local.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pushRecord, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, pushRecord{
			docID:        mapper.DocID(t.ID),
			updatedAt:    t.UpdatedAt,
			lastSyncedAt: t.LastSyncedAt,
			fields:       mapper.EncodeTask(t),
		})
	}
	return out, nil
}

func (e *Engine) activityRecords(ctx context.Context) ([]pushRecord, error) {
	activities, err := e.local.Activities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pushRecord, 0, len(activities))
	for _, a := range activities {
		out = append(out, pushRecord{
			docID:        mapper.DocID(a.ID),
			updatedAt:    a.UpdatedAt,
			lastSyncedAt: a.LastSyncedAt,
			fields:       mapper.EncodeActivity(a),
		})
	}
	return out, nil
}

// taxonomyRecords leaves lastSyncedAt empty on purpose: every item
// counts as dirty, which is what whole-set reconciliation wants.
func (e *Engine) taxonomyRecords(ctx context.Context) ([]pushRecord, error) {
	items, err := e.local.TaxonomyItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pushRecord, 0, len(items))
	for _, i := range items {
		out = append(out, pushRecord{
			docID:     i.Key(),
			updatedAt: i.UpdatedAt,
			fields:    mapper.EncodeTaxonomyItem(i),
		})
	}
	return out, nil
}

func (e *Engine) applyContactDoc(ctx context.Context, doc remote.Document) error {
	c, warnings, err := mapper.DecodeContact(doc.ID, doc.Fields)
	if err != nil {
		return err
	}
	e.logWarnings(model.Contacts, doc.ID, warnings)
	existing, found, err := e.local.GetContact(ctx, c.ID)
	if err != nil {
		return err
	}
	// Last writer wins: a strictly newer local edit beats the pulled
	// copy and stays dirty for the next push.
	if found && existing.UpdatedAt > c.UpdatedAt {
		return nil
	}
	c.LastSyncedAt = c.UpdatedAt
	return e.local.ApplyContact(ctx, &c)
}

func (e *Engine) applyTaskDoc(ctx context.Context, doc remote.Document) error {
	t, warnings, err := mapper.DecodeTask(doc.ID, doc.Fields)
	if err != nil {
		return err
	}
	e.logWarnings(model.Tasks, doc.ID, warnings)
	existing, found, err := e.local.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	if found && existing.UpdatedAt > t.UpdatedAt {
		return nil
	}
	t.LastSyncedAt = t.UpdatedAt
	return e.local.ApplyTask(ctx, &t)
}

func (e *Engine) applyActivityDoc(ctx context.Context, doc remote.Document) error {
	a, warnings, err := mapper.DecodeActivity(doc.ID, doc.Fields)
	if err != nil {
		return err
	}
	e.logWarnings(model.Activities, doc.ID, warnings)
	existing, found, err := e.local.GetActivity(ctx, a.ID)
	if err != nil {
		return err
	}
	if found && existing.UpdatedAt > a.UpdatedAt {
		return nil
	}
	a.LastSyncedAt = a.UpdatedAt
	return e.local.ApplyActivity(ctx, &a)
}

func (e *Engine) applyTaxonomyDoc(ctx context.Context, doc remote.Document) error {
	i, warnings, err := mapper.DecodeTaxonomyItem(doc.ID, doc.Fields)
	if err != nil {
		return err
	}
	e.logWarnings(model.Taxonomies, doc.ID, warnings)
	return e.local.ApplyTaxonomyItem(ctx, &i)
}

// removeByLocalID adapts a local delete to the remote document id a
// deletion event carries. Non-numeric ids cannot map to a local row
// and are reported upward as skip-and-log errors.
func (e *Engine) removeByLocalID(del func(context.Context, int64) error) func(context.Context, string) error {
	return func(ctx context.Context, docID string) error {
		id, err := mapper.ParseLocalID(docID)
		if err != nil {
			return err
		}
		return del(ctx, id)
	}
}

func (e *Engine) markSyncedByLocalID(set func(context.Context, int64, string) error) func(context.Context, string, string) error {
	return func(ctx context.Context, docID, ts string) error {
		id, err := mapper.ParseLocalID(docID)
		if err != nil {
			return err
		}
		return set(ctx, id, ts)
	}
}

func (e *Engine) removeTaxonomy(ctx context.Context, docID string) error {
	typ, localID, err := mapper.ParseTaxonomyKey(docID)
	if err != nil {
		return err
	}
	return e.local.DeleteTaxonomyItem(ctx, typ, localID)
}

func (e *Engine) logWarnings(col model.Collection, docID string, warnings []mapper.FieldWarning) {
	for _, w := range warnings {
		e.logger.Printf("WARNING: %s/%s: field defaulted (%s)", col, docID, w)
	}
}
