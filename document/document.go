// Package document defines the value type stored in collections.
//
// A Document is a JSON-compatible map. Buffered and stored documents are
// always deep copies, so callers can keep mutating their own maps after
// handing them to the library.
package document

// Document is a JSON-compatible document keyed by field name.
//
// Values are limited to what JSON can express: nil, bool, string, numbers,
// []any and nested map[string]any.
type Document map[string]any

// Clone returns a deep copy of d. A nil document clones to nil.
func Clone(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return map[string]any(Clone(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// Scalars (and anything else) are copied by value.
		return v
	}
}

// Field returns the value of a top-level field.
func (d Document) Field(name string) (any, bool) {
	v, ok := d[name]
	return v, ok
}
