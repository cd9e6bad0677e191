package engine

import (
	"time"

	"github.com/openfield/crmsync/internal/model"
)

// pushLoop watches one collection for local writes and runs a push
// cycle after the collection's debounce window closes. A burst of
// edits collapses into a single cycle.
func (e *Engine) pushLoop(s *session, c *collection) {
	defer s.wg.Done()

	changes, cancel := e.local.Watch(c.name)
	defer cancel()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-s.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-changes:
			if timer == nil {
				timer = time.NewTimer(c.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			e.pushCycle(s, c)
		}
	}
}

// pushCycle uploads dirty records for one collection. While the echo
// gate is held the cycle is skipped outright; the writes that tripped
// the watcher came from remote and pushing them back would echo. The
// rows stay dirty-checked, so a coinciding real local edit is caught
// on the next watcher signal.
func (e *Engine) pushCycle(s *session, c *collection) {
	if e.gate.Held() {
		return
	}

	records, err := c.records(s.ctx)
	if err != nil {
		e.logger.Printf("WARNING: snapshot %s: %v", c.name, err)
		e.notifyPushError(c.name, err)
		return
	}

	if c.setReconcile {
		e.pushSet(s, c, records)
		return
	}

	pushed := 0
	for _, r := range records {
		if !model.IsDirty(r.updatedAt, r.lastSyncedAt) {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		if err := e.remote.UpsertMerge(s.ctx, s.tenant, c.name, r.docID, r.fields); err != nil {
			e.logger.Printf("WARNING: push %s/%s: %v", c.name, r.docID, err)
			e.notifyPushError(c.name, err)
			continue
		}
		if err := c.markSynced(s.ctx, r.docID, r.updatedAt); err != nil {
			// The upsert landed; the record re-pushes next cycle,
			// which the merge-write makes harmless.
			e.logger.Printf("WARNING: mark synced %s/%s: %v", c.name, r.docID, err)
			continue
		}
		pushed++
	}
	if pushed > 0 {
		e.logger.Printf("pushed %d records to %s", pushed, c.name)
	}
}

// pushSet reconciles a whole-set collection: every local record is
// upserted and every remote document absent locally is deleted. Used
// for taxonomy, whose items have no per-item sync state.
func (e *Engine) pushSet(s *session, c *collection, records []pushRecord) {
	localKeys := make(map[string]bool, len(records))
	for _, r := range records {
		localKeys[r.docID] = true
		if s.ctx.Err() != nil {
			return
		}
		if err := e.remote.UpsertMerge(s.ctx, s.tenant, c.name, r.docID, r.fields); err != nil {
			e.logger.Printf("WARNING: push %s/%s: %v", c.name, r.docID, err)
			e.notifyPushError(c.name, err)
		}
	}

	remoteDocs, err := e.remote.GetAll(s.ctx, s.tenant, c.name)
	if err != nil {
		e.logger.Printf("WARNING: list %s: %v", c.name, err)
		e.notifyPushError(c.name, err)
		return
	}
	for _, doc := range remoteDocs {
		if localKeys[doc.ID] {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		if err := e.remote.Delete(s.ctx, s.tenant, c.name, doc.ID); err != nil {
			e.logger.Printf("WARNING: delete %s/%s: %v", c.name, doc.ID, err)
			e.notifyPushError(c.name, err)
		}
	}
	e.logger.Printf("reconciled %d records in %s", len(records), c.name)
}
