// Package schema describes the permitted shape of records: declared field
// types, required fields, a composite primary key and inclusive numeric
// ranges. A Schema is immutable once constructed and safe to share.
//
// Schemas are usually parsed from a document of the form:
//
//	{
//	  "type": "object",
//	  "properties": {"empno": {"type": "integer"}, "name": {"type": "string"}},
//	  "required": ["name"],
//	  "key": ["empno"],
//	  "validation": {"empno": {"min": 1, "max": 5000}},
//	  "strict": false
//	}
//
// Unrecognized keys are ignored.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/stevemurr/itable/errs"
)

// Type is a declared field type.
type Type string

const (
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeNull    Type = "null"
)

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	switch t {
	case TypeInteger, TypeNumber, TypeString, TypeBoolean, TypeObject, TypeArray, TypeNull:
		return true
	}
	return false
}

// Numeric reports whether range constraints may apply to t.
func (t Type) Numeric() bool {
	return t == TypeInteger || t == TypeNumber
}

// Field is a declared field.
type Field struct {
	Name string
	Type Type
}

// Range is an inclusive numeric bound.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether n lies within [Min, Max].
func (r Range) Contains(n float64) bool {
	return n >= r.Min && n <= r.Max
}

// Definition is the raw material for New.
type Definition struct {
	Fields   []Field
	Required []string
	Key      []string
	Ranges   map[string]Range
	Strict   bool
}

// Option adjusts a Definition before it is checked.
type Option func(*Definition)

// Strict makes unknown record fields a violation.
func Strict() Option {
	return func(d *Definition) { d.Strict = true }
}

// Schema is an immutable record description.
type Schema struct {
	fields   []Field
	types    map[string]Type
	required []string
	key      []string
	ranges   map[string]Range
	strict   bool
}

func malformed(format string, args ...any) error {
	return errs.Newf(errs.CategorySchema, errs.CodeMalformedSchema, format, args...)
}

// New builds a Schema from def. It fails with a MALFORMED_SCHEMA error when
// the definition is self-inconsistent.
func New(def Definition, opts ...Option) (*Schema, error) {
	for _, opt := range opts {
		opt(&def)
	}

	s := &Schema{
		types:  make(map[string]Type, len(def.Fields)),
		ranges: make(map[string]Range, len(def.Ranges)),
		strict: def.Strict,
	}

	for _, f := range def.Fields {
		if f.Name == "" {
			return nil, malformed("field with empty name")
		}
		if !f.Type.Valid() {
			return nil, malformed("field %q has unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.types[f.Name]; dup {
			return nil, malformed("field %q declared twice", f.Name)
		}
		s.types[f.Name] = f.Type
		s.fields = append(s.fields, f)
	}

	seen := make(map[string]bool, len(def.Required))
	for _, name := range def.Required {
		if name == "" {
			return nil, malformed("required field with empty name")
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		s.required = append(s.required, name)
	}

	inKey := make(map[string]bool, len(def.Key))
	for _, name := range def.Key {
		if _, ok := s.types[name]; !ok {
			return nil, malformed("key field %q is not declared in properties", name)
		}
		if inKey[name] {
			return nil, malformed("key field %q listed twice", name)
		}
		inKey[name] = true
		s.key = append(s.key, name)
	}

	for name, r := range def.Ranges {
		t, ok := s.types[name]
		if !ok {
			return nil, malformed("validation field %q is not declared in properties", name)
		}
		if !t.Numeric() {
			return nil, malformed("validation field %q has non-numeric type %q", name, t)
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
			return nil, malformed("validation field %q has a NaN bound", name)
		}
		if r.Min > r.Max {
			return nil, malformed("validation field %q has min %v greater than max %v", name, r.Min, r.Max)
		}
		s.ranges[name] = r
	}

	return s, nil
}

// Parse builds a Schema from a decoded document. Because a Go map carries no
// order, properties are declared in name order; use ParseJSON to keep the
// document's own order.
func Parse(doc map[string]any, opts ...Option) (*Schema, error) {
	return parse(doc, nil, opts)
}

// ParseJSON builds a Schema from a JSON document, keeping the declared
// order of its properties.
func ParseJSON(raw []byte, opts ...Option) (*Schema, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.Wrap(errs.CategorySchema, errs.CodeMalformedSchema, "invalid schema JSON", err)
	}
	order, err := propertyOrder(raw)
	if err != nil {
		return nil, errs.Wrap(errs.CategorySchema, errs.CodeMalformedSchema, "invalid schema JSON", err)
	}
	return parse(doc, order, opts)
}

// propertyOrder returns the keys of the top-level "properties" object in
// the order they appear in raw.
func propertyOrder(raw []byte) ([]string, error) {
	var top struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	if len(top.Properties) == 0 || string(top.Properties) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(top.Properties))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		// Not an object; parse reports the shape problem.
		return nil, nil
	}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		order = append(order, name)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func parse(doc map[string]any, order []string, opts []Option) (*Schema, error) {
	if doc == nil {
		return nil, malformed("schema document is empty")
	}
	if t, ok := doc["type"]; ok {
		if ts, _ := t.(string); ts != string(TypeObject) {
			return nil, malformed("schema type must be %q, got %v", TypeObject, t)
		}
	}

	var def Definition

	if raw, ok := doc["properties"]; ok && raw != nil {
		props, ok := raw.(map[string]any)
		if !ok {
			return nil, malformed("properties must be an object")
		}
		if len(order) != len(props) {
			order = make([]string, 0, len(props))
			for name := range props {
				order = append(order, name)
			}
			sort.Strings(order)
		}
		for _, name := range order {
			ps, ok := props[name].(map[string]any)
			if !ok {
				return nil, malformed("property %q must be an object", name)
			}
			ts, ok := ps["type"].(string)
			if !ok {
				return nil, malformed("property %q has no type", name)
			}
			def.Fields = append(def.Fields, Field{Name: name, Type: Type(ts)})
		}
	}

	var err error
	if def.Required, err = stringList(doc, "required"); err != nil {
		return nil, err
	}
	if def.Key, err = stringList(doc, "key"); err != nil {
		return nil, err
	}

	if raw, ok := doc["validation"]; ok && raw != nil {
		rules, ok := raw.(map[string]any)
		if !ok {
			return nil, malformed("validation must be an object")
		}
		def.Ranges = make(map[string]Range, len(rules))
		for name, ruleRaw := range rules {
			rule, ok := ruleRaw.(map[string]any)
			if !ok {
				return nil, malformed("validation for %q must be an object", name)
			}
			r := Range{Min: math.Inf(-1), Max: math.Inf(1)}
			if v, ok := rule["min"]; ok {
				if r.Min, ok = toFloat(v); !ok {
					return nil, malformed("validation min for %q is not a number", name)
				}
			}
			if v, ok := rule["max"]; ok {
				if r.Max, ok = toFloat(v); !ok {
					return nil, malformed("validation max for %q is not a number", name)
				}
			}
			def.Ranges[name] = r
		}
	}

	if raw, ok := doc["strict"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, malformed("strict must be a boolean")
		}
		def.Strict = b
	}

	return New(def, opts...)
}

func stringList(doc map[string]any, name string) ([]string, error) {
	raw, ok := doc[name]
	if !ok || raw == nil {
		return nil, nil
	}
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, malformed("%s entries must be strings, got %v", name, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, malformed("%s must be a list of field names", name)
}

// Document renders the schema back into its document form.
func (s *Schema) Document() map[string]any {
	props := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		props[f.Name] = map[string]any{"type": string(f.Type)}
	}
	doc := map[string]any{
		"type":       string(TypeObject),
		"properties": props,
		"required":   toAnyList(s.required),
		"key":        toAnyList(s.key),
	}
	if len(s.ranges) > 0 {
		rules := make(map[string]any, len(s.ranges))
		for name, r := range s.ranges {
			rule := map[string]any{}
			if !math.IsInf(r.Min, -1) {
				rule["min"] = r.Min
			}
			if !math.IsInf(r.Max, 1) {
				rule["max"] = r.Max
			}
			rules[name] = rule
		}
		doc["validation"] = rules
	}
	if s.strict {
		doc["strict"] = true
	}
	return doc
}

func toAnyList(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// FieldType returns the declared type of name.
func (s *Schema) FieldType(name string) (Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Required returns the required field names.
func (s *Schema) Required() []string {
	return append([]string(nil), s.required...)
}

// KeyFields returns the primary key field names in key order.
func (s *Schema) KeyFields() []string {
	return append([]string(nil), s.key...)
}

// Range returns the range constraint on name, if any.
func (s *Schema) Range(name string) (Range, bool) {
	r, ok := s.ranges[name]
	return r, ok
}

// IsStrict reports whether unknown fields are rejected.
func (s *Schema) IsStrict() bool {
	return s.strict
}

func (s *Schema) String() string {
	return fmt.Sprintf("schema(fields=%d key=%v)", len(s.fields), s.key)
}
