package schema

// Record maps field names to values.
type Record map[string]any

// Get returns the value of field and whether it is present.
func (r Record) Get(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// Clone returns a deep copy of r. Nested objects and arrays are copied;
// scalar values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case Record:
		return x.Clone()
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}
