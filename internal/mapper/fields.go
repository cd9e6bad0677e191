package mapper

import (
	"fmt"
	"strconv"

	"github.com/openfield/crmsync/internal/model"
)

// FieldWarning records a field that could not be decoded as typed and
// was replaced by its default.
type FieldWarning struct {
	Field  string
	Reason string
}

func (w FieldWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Reason)
}

// decoder wraps a raw field map and accumulates warnings while pulling
// typed values out of it.
type decoder struct {
	fields   map[string]any
	warnings []FieldWarning
}

func newDecoder(fields map[string]any) *decoder {
	return &decoder{fields: fields}
}

func (d *decoder) warn(field, format string, args ...any) {
	d.warnings = append(d.warnings, FieldWarning{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// str returns the field as a string, or "" when absent. A present
// non-string value is a warning.
func (d *decoder) str(field string) string {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.warn(field, "expected string, got %T", v)
		return ""
	}
	return s
}

// num returns the field as an int64, or 0 when absent. JSON decoding
// yields float64, so both integer and float forms are accepted.
func (d *decoder) num(field string) int64 {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		// Some producers stringify numbers; tolerate it.
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			d.warn(field, "expected number, got %q", n)
			return 0
		}
		return parsed
	default:
		d.warn(field, "expected number, got %T", v)
		return 0
	}
}

// boolean returns the field as a bool, or false when absent.
func (d *decoder) boolean(field string) bool {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.warn(field, "expected bool, got %T", v)
		return false
	}
	return b
}

// strList returns the field as a string slice, silently dropping
// non-string elements. Absent or malformed fields yield an empty slice.
func (d *decoder) strList(field string) []string {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		d.warn(field, "expected array, got %T", v)
		return nil
	}
}

// strMap returns the field as a string-to-string map, coercing every
// value to its string form.
func (d *decoder) strMap(field string) map[string]string {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return nil
	}
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, e := range m {
			if s, ok := e.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprint(e)
			}
		}
		return out
	default:
		d.warn(field, "expected map, got %T", v)
		return nil
	}
}

// stamp returns the field as a fixed-width timestamp string. An absent
// field defaults to now; a present but unparsable one defaults to now
// with a warning, so one bad stamp never rejects the record.
func (d *decoder) stamp(field string) string {
	v, ok := d.fields[field]
	if !ok || v == nil {
		return model.Now()
	}
	s, ok := v.(string)
	if !ok {
		d.warn(field, "expected timestamp string, got %T", v)
		return model.Now()
	}
	if _, err := model.ParseTime(s); err != nil {
		d.warn(field, "unparsable timestamp %q", s)
		return model.Now()
	}
	return s
}

// ParseLocalID converts a remote document id back to a local integer
// key. A non-numeric id cannot map to a local row and is a hard error;
// callers skip and log the record.
func ParseLocalID(docID string) (int64, error) {
	id, err := strconv.ParseInt(docID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("document id %q is not a local integer key", docID)
	}
	return id, nil
}

// DocID renders a local integer key as a remote document id.
func DocID(id int64) string {
	return strconv.FormatInt(id, 10)
}
