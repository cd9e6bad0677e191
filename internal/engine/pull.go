package engine

import (
	"context"
	"fmt"

	"github.com/openfield/crmsync/internal/remote"
)

// updatedAtField is the remote document field every incremental query
// and subscription keys on.
const updatedAtField = "updatedAt"

// pullCatchUp brings the local store up to the remote state. With an
// empty watermark every collection is pulled in full; otherwise only
// documents with updatedAt strictly greater than the watermark come
// down. Taxonomy is always pulled in full since its items carry no
// per-item sync state.
func (e *Engine) pullCatchUp(ctx context.Context, tenant, watermark string) error {
	for _, c := range e.cols {
		full := watermark == "" || c.setReconcile
		var (
			docs []remote.Document
			err  error
		)
		if full {
			docs, err = e.remote.GetAll(ctx, tenant, c.name)
		} else {
			docs, err = e.remote.QueryGreaterThan(ctx, tenant, c.name, updatedAtField, watermark)
		}
		if err != nil {
			return fmt.Errorf("pull %s: %w", c.name, err)
		}
		// A full taxonomy pull replaces the whole local set so
		// remote deletions do not linger locally.
		if c.setReconcile && watermark == "" {
			if err := e.local.DeleteAllTaxonomy(ctx); err != nil {
				return fmt.Errorf("reset %s: %w", c.name, err)
			}
		}
		e.applyBatch(ctx, c, docs)
	}
	return nil
}

// applyBatch lands pulled documents under the echo gate so the push
// side does not mistake them for local edits. Per-document failures
// are logged and skipped; one bad document must not block a sync.
func (e *Engine) applyBatch(ctx context.Context, c *collection, docs []remote.Document) {
	if len(docs) == 0 {
		return
	}
	release := e.gate.Enter()
	defer release()
	applied := 0
	for _, doc := range docs {
		if err := c.apply(ctx, doc); err != nil {
			e.logger.Printf("WARNING: apply %s/%s: %v", c.name, doc.ID, err)
			continue
		}
		applied++
	}
	e.logger.Printf("pulled %d/%d documents into %s", applied, len(docs), c.name)
}

// attachListeners subscribes to remote changes for every collection,
// scoped to documents updated after the session started so the catch-up
// pull and the live stream do not overlap.
func (e *Engine) attachListeners(s *session, sessionStart string) {
	for _, c := range e.cols {
		c := c
		cancel, err := e.remote.Subscribe(s.ctx, s.tenant, c.name, updatedAtField, sessionStart, func(ev remote.Event) {
			e.handleRemoteEvent(s, c, ev)
		})
		if err != nil {
			// Live updates degrade to the next catch-up pull.
			e.logger.Printf("WARNING: subscribe %s: %v", c.name, err)
			continue
		}
		s.addUnsub(cancel)
	}
}

func (e *Engine) handleRemoteEvent(s *session, c *collection, ev remote.Event) {
	if s.ctx.Err() != nil {
		return
	}
	if ev.Type == remote.Removed {
		if err := c.remove(s.ctx, ev.DocID); err != nil {
			e.logger.Printf("WARNING: remove %s/%s: %v", c.name, ev.DocID, err)
		}
		return
	}
	release := e.gate.Enter()
	defer release()
	doc := remote.Document{ID: ev.DocID, Fields: ev.Fields}
	if err := c.apply(s.ctx, doc); err != nil {
		e.logger.Printf("WARNING: apply %s/%s: %v", c.name, ev.DocID, err)
	}
}
