package query

import (
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/schema"
)

// Operator is a supported comparison.
type Operator string

const (
	OpEq      Operator = "="
	OpNe      Operator = "!="
	OpNeAlt   Operator = "<>"
	OpLt      Operator = "<"
	OpLe      Operator = "<="
	OpGt      Operator = ">"
	OpGe      Operator = ">="
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpNotIn   Operator = "NOT IN"
	OpBetween Operator = "BETWEEN"
)

// Allow-list of operators. Anything else is rejected, never downgraded.
var supportedOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpNeAlt: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpLike: true, OpIn: true, OpNotIn: true, OpBetween: true,
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may appear unquoted in statement text.
func ValidIdentifier(name string) bool {
	return identifier.MatchString(name)
}

// QuoteIdentifier wraps name in double quotes, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SelectAll returns a base statement selecting every row of table, ending
// in a tautological WHERE so filters can be appended with AND.
func SelectAll(table string) string {
	return "SELECT * FROM " + QuoteIdentifier(table) + " WHERE 1=1"
}

// Filter is one optional predicate.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
	// Apply false means the filter contributes neither text nor a binding.
	Apply bool `json:"apply"`
	// Param optionally names the placeholder. Operators with several
	// operands get Param_1, Param_2, ...
	Param string `json:"param,omitempty"`
}

// F returns a filter that is always applied.
func F(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value, Apply: true}
}

// Optional returns a filter applied only when value is present: not nil,
// not an empty string and not an empty slice or map.
func Optional(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value, Apply: Present(value)}
}

// When returns a filter applied only when cond holds.
func When(cond bool, field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value, Apply: cond}
}

// Present reports whether v counts as a supplied filter value.
func Present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Statement is a built statement: text with `:name` placeholders and the
// values bound to them.
type Statement struct {
	Text     string         `json:"text"`
	Bindings map[string]any `json:"bindings"`
	// Names lists the placeholders in the order they appear in Text.
	Names []string `json:"names"`
}

// Args returns the bindings as sql.NamedArg values in placeholder order,
// ready for database/sql.
func (s Statement) Args() []any {
	args := make([]any, len(s.Names))
	for i, name := range s.Names {
		args[i] = sql.Named(name, s.Bindings[name])
	}
	return args
}

// Builder appends filters to a fixed base statement. It holds no per-call
// state and may be shared.
type Builder struct {
	base   string
	schema *schema.Schema
}

// Option configures a Builder.
type Option func(*Builder)

// WithSchema restricts filter fields to those declared by s.
func WithSchema(s *schema.Schema) Option {
	return func(b *Builder) { b.schema = s }
}

// New returns a Builder for base. base must already end in a WHERE clause
// (for example "WHERE 1=1") since predicates are appended with AND.
func New(base string, opts ...Option) *Builder {
	b := &Builder{base: base}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build renders the base statement followed by one predicate per applied
// filter, in the order given. Every filter is checked, applied or not: an
// unsupported operator or an invalid field name is an error either way.
func (b *Builder) Build(filters []Filter) (Statement, error) {
	if strings.TrimSpace(b.base) == "" {
		return Statement{}, errs.New(errs.CategoryQuery, errs.CodeInvalidFilter, "base statement is empty")
	}

	stmt := Statement{Bindings: make(map[string]any)}
	var sb strings.Builder
	sb.WriteString(b.base)

	for i, f := range filters {
		op, err := b.check(i, f)
		if err != nil {
			return Statement{}, err
		}
		if !f.Apply {
			continue
		}

		operands, err := operandsFor(op, f.Value)
		if err != nil {
			return Statement{}, errs.Newf(errs.CategoryQuery, errs.CodeInvalidFilter,
				"filter %d (%s %s): %v", i, f.Field, op, err)
		}

		placeholders := make([]string, len(operands))
		for j, v := range operands {
			name := paramName(f, len(stmt.Names)+1, j, len(operands))
			if _, taken := stmt.Bindings[name]; taken {
				return Statement{}, errs.Newf(errs.CategoryQuery, errs.CodeDuplicateParameter,
					"filter %d: parameter %q is already bound", i, name)
			}
			stmt.Bindings[name] = v
			stmt.Names = append(stmt.Names, name)
			placeholders[j] = ":" + name
		}

		sb.WriteString(" AND ")
		sb.WriteString(predicate(f.Field, op, placeholders))
	}

	stmt.Text = sb.String()
	return stmt, nil
}

func (b *Builder) check(i int, f Filter) (Operator, error) {
	op := normalizeOperator(f.Op)
	if !supportedOperators[op] {
		return "", errs.Newf(errs.CategoryQuery, errs.CodeUnsupportedOperator,
			"filter %d: operator %q is not supported", i, f.Op).
			WithDetails(map[string]any{"index": i, "field": f.Field, "operator": f.Op})
	}
	if !ValidIdentifier(f.Field) {
		return "", errs.Newf(errs.CategoryQuery, errs.CodeInvalidIdentifier,
			"filter %d: %q is not a valid field name", i, f.Field)
	}
	if b.schema != nil {
		if _, ok := b.schema.FieldType(f.Field); !ok {
			return "", errs.Newf(errs.CategoryQuery, errs.CodeInvalidIdentifier,
				"filter %d: field %q is not declared", i, f.Field)
		}
	}
	if f.Param != "" && !ValidIdentifier(f.Param) {
		return "", errs.Newf(errs.CategoryQuery, errs.CodeInvalidIdentifier,
			"filter %d: %q is not a valid parameter name", i, f.Param)
	}
	return op, nil
}

// normalizeOperator upper-cases op and collapses inner whitespace, so
// "not   in" and "NOT IN" are the same operator.
func normalizeOperator(op string) Operator {
	return Operator(strings.Join(strings.Fields(strings.ToUpper(op)), " "))
}

// operandsFor splits a filter value into the values to bind.
func operandsFor(op Operator, value any) ([]any, error) {
	switch op {
	case OpIn, OpNotIn:
		list, ok := asList(value)
		if !ok {
			return nil, fmt.Errorf("value must be a list")
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("value list is empty")
		}
		return list, nil
	case OpBetween:
		list, ok := asList(value)
		if !ok || len(list) != 2 {
			return nil, fmt.Errorf("value must be a [low, high] pair")
		}
		return list, nil
	}
	if _, ok := asList(value); ok {
		return nil, fmt.Errorf("operator takes a single value, got a list")
	}
	return []any{value}, nil
}

func asList(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if _, ok := value.([]byte); ok {
		return nil, false
	}
	if list, ok := value.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// paramName picks the placeholder name for operand j of n. ordinal is the
// 1-based position of the binding within the statement.
func paramName(f Filter, ordinal, j, n int) string {
	if f.Param == "" {
		return f.Field + "_" + strconv.Itoa(ordinal)
	}
	if n == 1 {
		return f.Param
	}
	return f.Param + "_" + strconv.Itoa(j+1)
}

func predicate(field string, op Operator, placeholders []string) string {
	switch op {
	case OpIn, OpNotIn:
		return field + " " + string(op) + " (" + strings.Join(placeholders, ", ") + ")"
	case OpBetween:
		return field + " BETWEEN " + placeholders[0] + " AND " + placeholders[1]
	}
	return field + " " + string(op) + " " + placeholders[0]
}
