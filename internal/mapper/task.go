package mapper

import "github.com/openfield/crmsync/internal/model"

// EncodeTask renders a task as a remote document field map.
func EncodeTask(t model.Task) map[string]any {
	return map[string]any{
		"contactId":  t.ContactID,
		"title":      t.Title,
		"notes":      t.Notes,
		"dueAt":      t.DueAt,
		"priorityId": t.PriorityID,
		"done":       t.Done,
		"createdAt":  t.CreatedAt,
		"updatedAt":  t.UpdatedAt,
	}
}

// DecodeTask builds a task from a remote document.
func DecodeTask(docID string, fields map[string]any) (model.Task, []FieldWarning, error) {
	id, err := ParseLocalID(docID)
	if err != nil {
		return model.Task{}, nil, err
	}

	d := newDecoder(fields)
	t := model.Task{
		ID:         id,
		ContactID:  d.num("contactId"),
		Title:      d.str("title"),
		Notes:      d.str("notes"),
		DueAt:      d.str("dueAt"),
		PriorityID: d.num("priorityId"),
		Done:       d.boolean("done"),
		CreatedAt:  d.stamp("createdAt"),
		UpdatedAt:  d.stamp("updatedAt"),
	}
	return t, d.warnings, nil
}
