package engine

import (
	"context"
	"fmt"

	"github.com/openfield/crmsync/internal/mapper"
	"github.com/openfield/crmsync/internal/model"
	"github.com/openfield/crmsync/internal/remote"
)

// Cascade operations are direct remote mutations outside the
// dirty-tracking push path. Local-side deletion is the caller's
// responsibility; the application deletes its own rows and then asks
// the engine to mirror the deletion remotely.

// DeletePersonCascade deletes the contact's remote document and then
// fans out to every remote task and activity whose foreign key points
// at it. Dependent deletions that fail are logged and counted but do
// not abort the fan-out.
func (e *Engine) DeletePersonCascade(ctx context.Context, tenant string, id int64) error {
	docID := mapper.DocID(id)
	if err := e.remote.Delete(ctx, tenant, model.Contacts, docID); err != nil {
		return fmt.Errorf("failed to delete contact %d: %w", id, err)
	}

	var failed int
	for _, col := range []model.Collection{model.Tasks, model.Activities} {
		n, err := e.deleteDependents(ctx, tenant, col, id)
		if err != nil {
			return fmt.Errorf("failed to enumerate %s for contact %d: %w", col, id, err)
		}
		failed += n
	}
	if failed > 0 {
		return fmt.Errorf("contact %d deleted but %d dependent deletions failed", id, failed)
	}
	e.logger.Printf("cascade delete complete for contact %d", id)
	return nil
}

// deleteDependents removes every document in col whose contactId field
// equals contactID. Returns the number of deletions that failed.
func (e *Engine) deleteDependents(ctx context.Context, tenant string, col model.Collection, contactID int64) (int, error) {
	docs, err := e.remote.GetAll(ctx, tenant, col)
	if err != nil {
		return 0, err
	}
	var failed int
	for _, doc := range docs {
		fk, ok := foreignKey(doc, "contactId")
		if !ok || fk != contactID {
			continue
		}
		if err := e.remote.Delete(ctx, tenant, col, doc.ID); err != nil {
			e.logger.Printf("WARNING: cascade delete %s/%s: %v", col, doc.ID, err)
			failed++
		}
	}
	return failed, nil
}

// DeleteTaskRemote deletes a single task document.
func (e *Engine) DeleteTaskRemote(ctx context.Context, tenant string, id int64) error {
	if err := e.remote.Delete(ctx, tenant, model.Tasks, mapper.DocID(id)); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// DeleteActivityRemote deletes a single activity document.
func (e *Engine) DeleteActivityRemote(ctx context.Context, tenant string, id int64) error {
	if err := e.remote.Delete(ctx, tenant, model.Activities, mapper.DocID(id)); err != nil {
		return fmt.Errorf("failed to delete activity %d: %w", id, err)
	}
	return nil
}

// ClearAllRemoteData deletes every document the tenant owns: all four
// collections plus the settings document. The first error aborts; a
// partial wipe is re-runnable since deletion is idempotent.
func (e *Engine) ClearAllRemoteData(ctx context.Context, tenant string) error {
	for _, col := range model.Collections {
		docs, err := e.remote.GetAll(ctx, tenant, col)
		if err != nil {
			return fmt.Errorf("failed to enumerate %s: %w", col, err)
		}
		for _, doc := range docs {
			if err := e.remote.Delete(ctx, tenant, col, doc.ID); err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", col, doc.ID, err)
			}
		}
	}
	if err := e.remote.Delete(ctx, tenant, settingsCollection, settingsDocID); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	e.logger.Printf("cleared all remote data for tenant %s", tenant)
	return nil
}

// foreignKey reads an integer foreign key out of a document field,
// tolerating the numeric shapes JSON decoding produces.
func foreignKey(doc remote.Document, field string) (int64, bool) {
	switch v := doc.Fields[field].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		id, err := mapper.ParseLocalID(v)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
