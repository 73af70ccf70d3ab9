package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/stevemurr/itable/errs"
)

// ViolationKind names the constraint a record broke.
type ViolationKind string

const (
	MissingRequired ViolationKind = "missing_required"
	TypeMismatch    ViolationKind = "type_mismatch"
	OutOfRange      ViolationKind = "out_of_range"
	MissingKeyField ViolationKind = "missing_key_field"
	UnknownField    ViolationKind = "unknown_field"
)

// Violation describes one field that failed validation.
type Violation struct {
	Field  string        `json:"field"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Kind, v.Detail)
}

// Result is the outcome of ValidateShape. A Result with no violations is valid.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Valid reports whether no violations were found.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Err returns nil for a valid result, or a SHAPE_VIOLATION error listing
// every violation.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return ViolationError(r.Violations)
}

// ViolationError wraps violations in a SHAPE_VIOLATION error.
func ViolationError(vs []Violation) *errs.Error {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return errs.New(errs.CategoryValidation, errs.CodeShapeViolation, strings.Join(parts, "; ")).
		WithDetails(map[string]any{"violations": vs})
}

// ValidateShape checks rec against the schema. Required fields are checked
// first, then the type and range of every present declared field. Each
// field reports at most one violation, but every failing field is reported.
// In strict mode unknown fields are appended in name order.
func (s *Schema) ValidateShape(rec Record) Result {
	var out []Violation

	for _, name := range s.required {
		if _, ok := rec[name]; !ok {
			out = append(out, Violation{Field: name, Kind: MissingRequired, Detail: "required field is missing"})
		}
	}

	for _, f := range s.fields {
		v, ok := rec[f.Name]
		if !ok {
			continue
		}
		if detail, ok := checkType(f.Type, v); !ok {
			out = append(out, Violation{Field: f.Name, Kind: TypeMismatch, Detail: detail})
			continue
		}
		if r, ok := s.ranges[f.Name]; ok {
			n, _ := toFloat(v)
			if !r.Contains(n) {
				out = append(out, Violation{
					Field:  f.Name,
					Kind:   OutOfRange,
					Detail: fmt.Sprintf("%s is outside [%s, %s]", formatFloat(n), formatFloat(r.Min), formatFloat(r.Max)),
				})
			}
		}
	}

	if s.strict {
		var unknown []string
		for name := range rec {
			if _, ok := s.types[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		for _, name := range unknown {
			out = append(out, Violation{Field: name, Kind: UnknownField, Detail: "field is not declared"})
		}
	}

	return Result{Violations: out}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// checkType reports whether value matches expected, with a detail message
// when it does not.
func checkType(expected Type, value any) (string, bool) {
	actual := typeOf(value)
	switch {
	case actual == string(expected):
		return "", true
	case expected == TypeNumber && actual == string(TypeInteger):
		return "", true
	}
	return fmt.Sprintf("expected type %q, got %q", expected, actual), false
}

// typeOf returns the schema type name of v. Whole floats and integral
// json.Number values report as integer so decoded JSON matches integer fields.
func typeOf(v any) string {
	if v == nil {
		return string(TypeNull)
	}
	switch x := v.(type) {
	case map[string]any, Record:
		return string(TypeObject)
	case []any:
		return string(TypeArray)
	case string:
		return string(TypeString)
	case bool:
		return string(TypeBoolean)
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return string(TypeInteger)
		}
		if f, err := x.Float64(); err == nil && isWhole(f) {
			return string(TypeInteger)
		}
		return string(TypeNumber)
	case float64:
		if isWhole(x) {
			return string(TypeInteger)
		}
		return string(TypeNumber)
	case float32:
		if isWhole(float64(x)) {
			return string(TypeInteger)
		}
		return string(TypeNumber)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return string(TypeInteger)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return string(TypeObject)
		}
	case reflect.Slice, reflect.Array:
		return string(TypeArray)
	}
	return reflect.TypeOf(v).String()
}

func isWhole(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
