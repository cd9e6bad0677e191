// Package engine implements the bidirectional sync session between the
// local store and the remote document store.
//
// A session, started with StartSync, runs these phases in order:
//
//  1. Incremental pull: one range query per collection bounded by the
//     persisted watermark (everything, when no watermark exists), with
//     pulled documents landed locally under the echo gate.
//  2. Watermark advance: the session start stamp is persisted so the
//     next session only pulls newer documents.
//  3. Push loops: one per collection, debouncing the local change
//     stream and upserting the dirty subset remotely.
//  4. Real-time listeners: one per collection, scoped to documents
//     updated after the session start so they never replay what the
//     catch-up already covered.
//
// The echo gate is the only state shared between pull and push: while
// remote-origin writes are being applied locally (plus a settle delay
// afterwards), push cycles are skipped entirely, so the engine never
// re-uploads what it just downloaded.
//
// Failure containment follows one rule: a failure touches nothing
// beyond its own record and cycle. Push failures leave LastSyncedAt
// alone, which is the entire retry mechanism: the record stays dirty
// and goes out on the next debounce cycle or the next session's pull.
// There is deliberately no retry queue and no backoff schedule.
package engine
