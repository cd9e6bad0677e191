package mapper

import "github.com/openfield/crmsync/internal/model"

// EncodeContact renders a contact as a remote document field map.
// LastSyncedAt is local bookkeeping and is never uploaded.
func EncodeContact(c model.Contact) map[string]any {
	return map[string]any{
		"name":      c.Name,
		"company":   c.Company,
		"phone":     c.Phone,
		"email":     c.Email,
		"notes":     c.Notes,
		"stageId":   c.StageID,
		"segmentId": c.SegmentID,
		"sourceId":  c.SourceID,
		"labels":    append([]string(nil), c.Labels...),
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
}

// DecodeContact builds a contact from a remote document. The returned
// warnings list the fields that fell back to defaults; only an
// unusable document id is an error.
func DecodeContact(docID string, fields map[string]any) (model.Contact, []FieldWarning, error) {
	id, err := ParseLocalID(docID)
	if err != nil {
		return model.Contact{}, nil, err
	}

	d := newDecoder(fields)
	c := model.Contact{
		ID:        id,
		Name:      d.str("name"),
		Company:   d.str("company"),
		Phone:     d.str("phone"),
		Email:     d.str("email"),
		Notes:     d.str("notes"),
		StageID:   d.num("stageId"),
		SegmentID: d.num("segmentId"),
		SourceID:  d.num("sourceId"),
		Labels:    d.strList("labels"),
		CreatedAt: d.stamp("createdAt"),
		UpdatedAt: d.stamp("updatedAt"),
	}
	return c, d.warnings, nil
}
