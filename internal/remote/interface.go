// Package remote defines the multi-tenant document store consumed by
// the sync engine, plus two implementations: a websocket client for a
// hosted store and an in-memory store used by tests and offline runs.
//
// Every operation is scoped by a tenant id; implementations keep
// tenants fully isolated (the websocket client maps the tenant to a
// path prefix on the wire). Documents are string-keyed field maps, one
// document per entity.
package remote

import (
	"context"

	"github.com/openfield/crmsync/internal/model"
)

// Document is one remote record: an opaque string id plus its fields.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// EventType classifies a change-listener notification.
type EventType int

const (
	// Added means the document appeared after the subscription point.
	Added EventType = iota
	// Modified means an existing document changed.
	Modified
	// Removed means the document was deleted. Only the id is
	// available; Fields is nil.
	Removed
)

// String returns a wire-friendly name for the event type.
func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// ParseEventType maps a wire name back to an EventType.
func ParseEventType(s string) EventType {
	switch s {
	case "added":
		return Added
	case "removed":
		return Removed
	default:
		return Modified
	}
}

// Event is one change-listener notification.
type Event struct {
	Type   EventType
	DocID  string
	Fields map[string]any
}

// Handler consumes listener events. Handlers must not block for long;
// implementations may invoke them from their read loop.
type Handler func(Event)

// CancelFunc detaches a subscription. Safe to call more than once.
type CancelFunc func()

// Store is the remote document store the engine talks to.
//
// Implementations own their transport reliability: a listener created
// by Subscribe survives transient connection failures (the adapter
// reconnects and re-subscribes), and the engine treats listener errors
// as log-only events.
type Store interface {
	// QueryGreaterThan returns every document whose string field
	// orders strictly after value. An empty value matches everything.
	QueryGreaterThan(ctx context.Context, tenant string, col model.Collection, field, value string) ([]Document, error)

	// GetAll returns the full collection.
	GetAll(ctx context.Context, tenant string, col model.Collection) ([]Document, error)

	// Get reads a single document; the bool is false when absent.
	Get(ctx context.Context, tenant string, col model.Collection, docID string) (Document, bool, error)

	// UpsertMerge writes fields into the document, merging with any
	// fields already present remotely rather than replacing them.
	UpsertMerge(ctx context.Context, tenant string, col model.Collection, docID string, fields map[string]any) error

	// Delete removes a document. Idempotent.
	Delete(ctx context.Context, tenant string, col model.Collection, docID string) error

	// Subscribe attaches a change listener for documents whose field
	// orders strictly after the given value. Events arrive until the
	// returned CancelFunc runs or ctx is cancelled.
	Subscribe(ctx context.Context, tenant string, col model.Collection, field, after string, h Handler) (CancelFunc, error)
}
