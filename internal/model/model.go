// Package model defines the synchronizable CRM record types and the
// timestamp discipline shared by the local store and the sync engine.
//
// Every record carries an UpdatedAt stamp refreshed on each local write
// and a LastSyncedAt stamp written only by the engine after a confirmed
// remote upsert. A record is dirty when LastSyncedAt is empty or
// UpdatedAt orders strictly after it. Both stamps use the fixed-width
// format produced by Now(), so a plain string comparison is a valid
// total order.
package model

import "fmt"

// Collection identifies one of the four synchronized collections.
type Collection string

const (
	// Contacts holds contact records, keyed by local integer id.
	Contacts Collection = "contacts"
	// Tasks holds task records linked to a contact.
	Tasks Collection = "tasks"
	// Activities holds activity log entries linked to a contact.
	Activities Collection = "activities"
	// Taxonomies holds the small configurable reference lists
	// (pipeline stages, priorities, segments, sources).
	Taxonomies Collection = "taxonomies"
)

// Collections lists every synchronized collection in pull order.
var Collections = []Collection{Contacts, Tasks, Activities, Taxonomies}

// Contact is a CRM contact record.
type Contact struct {
	ID      int64
	Name    string
	Company string
	Phone   string
	Email   string
	Notes   string

	// Taxonomy references (local ids into the taxonomies collection).
	StageID   int64
	SegmentID int64
	SourceID  int64

	Labels []string

	CreatedAt    string
	UpdatedAt    string
	LastSyncedAt string
}

// Task is a follow-up item linked to a contact.
type Task struct {
	ID         int64
	ContactID  int64
	Title      string
	Notes      string
	DueAt      string
	PriorityID int64
	Done       bool

	CreatedAt    string
	UpdatedAt    string
	LastSyncedAt string
}

// ActivityKind classifies an activity log entry.
type ActivityKind int

const (
	// KindNote is the default kind and the fallback for unknown names.
	KindNote ActivityKind = iota
	// KindCall is a phone call.
	KindCall
	// KindMeeting is an in-person or video meeting.
	KindMeeting
	// KindEmail is an email exchange.
	KindEmail
)

// String returns the symbolic name used on remote documents.
func (k ActivityKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindMeeting:
		return "meeting"
	case KindEmail:
		return "email"
	default:
		return "note"
	}
}

// ParseActivityKind maps a symbolic name back to an ActivityKind.
// Unrecognized names fall back to KindNote so documents written by
// newer clients still decode.
func ParseActivityKind(s string) ActivityKind {
	switch s {
	case "call":
		return KindCall
	case "meeting":
		return KindMeeting
	case "email":
		return KindEmail
	default:
		return KindNote
	}
}

// ActivityLogEntry records an interaction with a contact.
type ActivityLogEntry struct {
	ID        int64
	ContactID int64
	Kind      ActivityKind
	Summary   string

	// Meta carries free-form string metadata (call duration, recording
	// reference, matched number and the like).
	Meta map[string]string

	OccurredAt   string
	UpdatedAt    string
	LastSyncedAt string
}

// TaxonomyType identifies which reference list a TaxonomyItem belongs to.
type TaxonomyType int

const (
	// TypeStage is a pipeline stage.
	TypeStage TaxonomyType = iota
	// TypePriority is a task priority level.
	TypePriority
	// TypeSegment is a contact segment.
	TypeSegment
	// TypeSource is a lead source.
	TypeSource
)

// String returns the symbolic name used in remote document ids.
func (t TaxonomyType) String() string {
	switch t {
	case TypePriority:
		return "priority"
	case TypeSegment:
		return "segment"
	case TypeSource:
		return "source"
	default:
		return "stage"
	}
}

// ParseTaxonomyType maps a symbolic name back to a TaxonomyType.
// Unrecognized names fall back to TypeStage.
func ParseTaxonomyType(s string) TaxonomyType {
	switch s {
	case "priority":
		return TypePriority
	case "segment":
		return TypeSegment
	case "source":
		return TypeSource
	default:
		return TypeStage
	}
}

// TaxonomyItem is one entry of a configurable reference list.
//
// Taxonomy items carry no LastSyncedAt: the collection is small and is
// reconciled as a whole set on every push cycle instead of per-item
// dirty tracking.
type TaxonomyItem struct {
	Type     TaxonomyType
	LocalID  int64
	Name     string
	Position int64

	UpdatedAt string
}

// Key returns the composite identity used as the remote document id,
// encoded as "<type>_<localID>".
func (i TaxonomyItem) Key() string {
	return fmt.Sprintf("%s_%d", i.Type, i.LocalID)
}

// IsDirty reports whether a record with the given stamps needs a push.
func IsDirty(updatedAt, lastSyncedAt string) bool {
	return lastSyncedAt == "" || updatedAt > lastSyncedAt
}
