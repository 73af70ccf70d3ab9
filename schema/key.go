package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/stevemurr/itable/errs"
)

// Key is the ordered tuple of a record's values at the schema's key fields.
type Key []any

// String returns the canonical encoding of k. Two keys are equal exactly
// when their encodings are equal.
func (k Key) String() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprint([]any(k))
	}
	return string(b)
}

// Equal reports whether k and other identify the same record.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// Format renders k against field names, e.g. "empno=1, dept=\"x\"".
func (k Key) Format(fields []string) string {
	out := ""
	for i, v := range k {
		if i > 0 {
			out += ", "
		}
		name := "?"
		if i < len(fields) {
			name = fields[i]
		}
		b, err := json.Marshal(v)
		if err != nil {
			out += fmt.Sprintf("%s=%v", name, v)
			continue
		}
		out += name + "=" + string(b)
	}
	return out
}

// KeyOf extracts the key tuple from rec. Each absent key field is reported
// as a MissingKeyField violation and the returned key is nil.
func (s *Schema) KeyOf(rec Record) (Key, []Violation) {
	var missing []Violation
	key := make(Key, 0, len(s.key))
	for _, name := range s.key {
		v, ok := rec[name]
		if !ok {
			missing = append(missing, Violation{Field: name, Kind: MissingKeyField, Detail: "key field is missing"})
			continue
		}
		key = append(key, s.Canonical(name, v))
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return key, nil
}

// NewKey builds a key from positional values, canonicalized by the
// declared types of the key fields.
func (s *Schema) NewKey(values ...any) Key {
	key := make(Key, len(values))
	for i, v := range values {
		if i < len(s.key) {
			key[i] = s.Canonical(s.key[i], v)
		} else {
			key[i] = v
		}
	}
	return key
}

// ParseKey converts string components, such as URL path segments, into a
// key using the declared type of each key field.
func (s *Schema) ParseKey(parts []string) (Key, error) {
	if len(parts) != len(s.key) {
		return nil, errs.Newf(errs.CategoryValidation, errs.CodeShapeViolation,
			"key has %d components, want %d (%v)", len(parts), len(s.key), s.key)
	}
	key := make(Key, len(parts))
	for i, part := range parts {
		name := s.key[i]
		var (
			v   any
			err error
		)
		switch s.types[name] {
		case TypeInteger:
			v, err = strconv.ParseInt(part, 10, 64)
		case TypeNumber:
			v, err = strconv.ParseFloat(part, 64)
		case TypeBoolean:
			v, err = strconv.ParseBool(part)
		case TypeNull:
			if part != "null" {
				err = fmt.Errorf("want null")
			}
		case TypeString:
			v = part
		default:
			err = json.Unmarshal([]byte(part), &v)
		}
		if err != nil {
			return nil, errs.Newf(errs.CategoryValidation, errs.CodeShapeViolation,
				"key field %q: cannot parse %q as %s", name, part, s.types[name])
		}
		key[i] = s.Canonical(name, v)
	}
	return key, nil
}

// Canonical returns v in the canonical Go representation for the declared
// type of field: int64 for integer fields and float64 for number fields.
// Values that do not fit the declared type are returned unchanged.
func (s *Schema) Canonical(field string, v any) any {
	switch s.types[field] {
	case TypeInteger:
		if n, ok := toInt64(v); ok {
			return n
		}
	case TypeNumber:
		if f, ok := toFloat(v); ok {
			if f == 0 {
				// -0 and 0 are the same key
				f = 0
			}
			return f
		}
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && isWhole(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f), true
		}
	case float64:
		if isWhole(n) && math.Abs(n) < math.MaxInt64 {
			return int64(n), true
		}
	case float32:
		if isWhole(float64(n)) && math.Abs(float64(n)) < math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}
