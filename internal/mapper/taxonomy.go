package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfield/crmsync/internal/model"
)

// EncodeTaxonomyItem renders a reference-list entry as a remote
// document field map. The composite identity also travels in the
// fields so that a listener deletion event, which only carries the
// document id, can be mapped back (see ParseTaxonomyKey).
func EncodeTaxonomyItem(i model.TaxonomyItem) map[string]any {
	return map[string]any{
		"type":      i.Type.String(),
		"localId":   i.LocalID,
		"name":      i.Name,
		"position":  i.Position,
		"updatedAt": i.UpdatedAt,
	}
}

// DecodeTaxonomyItem builds a reference-list entry from a remote
// document. The composite identity comes from the document id; the
// type/localId fields, when present, are ignored in favor of it.
func DecodeTaxonomyItem(docID string, fields map[string]any) (model.TaxonomyItem, []FieldWarning, error) {
	typ, localID, err := ParseTaxonomyKey(docID)
	if err != nil {
		return model.TaxonomyItem{}, nil, err
	}

	d := newDecoder(fields)
	i := model.TaxonomyItem{
		Type:      typ,
		LocalID:   localID,
		Name:      d.str("name"),
		Position:  d.num("position"),
		UpdatedAt: d.stamp("updatedAt"),
	}
	return i, d.warnings, nil
}

// ParseTaxonomyKey splits a "<type>_<localID>" document id back into
// its composite identity.
func ParseTaxonomyKey(docID string) (model.TaxonomyType, int64, error) {
	idx := strings.LastIndex(docID, "_")
	if idx <= 0 || idx == len(docID)-1 {
		return 0, 0, fmt.Errorf("taxonomy document id %q is not of the form type_localId", docID)
	}
	localID, err := strconv.ParseInt(docID[idx+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("taxonomy document id %q has a non-numeric local id", docID)
	}
	return model.ParseTaxonomyType(docID[:idx]), localID, nil
}
