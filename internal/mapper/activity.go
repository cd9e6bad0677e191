package mapper

import "github.com/openfield/crmsync/internal/model"

// EncodeActivity renders an activity log entry as a remote document
// field map. The kind travels as its symbolic name and the metadata as
// a nested string map.
func EncodeActivity(a model.ActivityLogEntry) map[string]any {
	meta := make(map[string]string, len(a.Meta))
	for k, v := range a.Meta {
		meta[k] = v
	}
	return map[string]any{
		"contactId":  a.ContactID,
		"kind":       a.Kind.String(),
		"summary":    a.Summary,
		"meta":       meta,
		"occurredAt": a.OccurredAt,
		"updatedAt":  a.UpdatedAt,
	}
}

// DecodeActivity builds an activity log entry from a remote document.
// Unknown kind names fall back to the note kind so entries written by
// newer clients still decode.
func DecodeActivity(docID string, fields map[string]any) (model.ActivityLogEntry, []FieldWarning, error) {
	id, err := ParseLocalID(docID)
	if err != nil {
		return model.ActivityLogEntry{}, nil, err
	}

	d := newDecoder(fields)
	a := model.ActivityLogEntry{
		ID:         id,
		ContactID:  d.num("contactId"),
		Kind:       model.ParseActivityKind(d.str("kind")),
		Summary:    d.str("summary"),
		Meta:       d.strMap("meta"),
		OccurredAt: d.stamp("occurredAt"),
		UpdatedAt:  d.stamp("updatedAt"),
	}
	return a, d.warnings, nil
}
