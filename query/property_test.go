package query_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/stevemurr/itable/query"
)

var (
	fieldNames = []string{"name", "age", "city", "status", "salary"}
	operators  = []string{"=", "!=", "<", "<=", ">", ">=", "LIKE"}
	attacks    = []string{
		`"; DROP TABLE x; --`,
		`' OR '1'='1`,
		`1; DELETE FROM users`,
		`:name_1`,
		"\x00\n;",
	}
)

func pick(options []string) gopter.Gen {
	return gen.IntRange(0, len(options)-1).Map(func(i int) string { return options[i] })
}

func filtersFrom(fields []string, ops []string, values []string, apply []bool) []query.Filter {
	n := min(len(fields), len(ops), len(values), len(apply))
	out := make([]query.Filter, n)
	for i := 0; i < n; i++ {
		out[i] = query.Filter{Field: fields[i], Op: ops[i], Value: values[i], Apply: apply[i]}
	}
	return out
}

// TestProperty_BuildIsDeterministic: the same ordered filters always give
// the same text and bindings.
func TestProperty_BuildIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("two builds agree", prop.ForAll(
		func(fields []string, ops []string, values []string, apply []bool) bool {
			filters := filtersFrom(fields, ops, values, apply)
			a, errA := query.New(usersBase).Build(filters)
			b, errB := query.New(usersBase).Build(filters)
			if errA != nil || errB != nil {
				return false
			}
			return a.Text == b.Text &&
				reflect.DeepEqual(a.Bindings, b.Bindings) &&
				reflect.DeepEqual(a.Names, b.Names)
		},
		gen.SliceOf(pick(fieldNames)),
		gen.SliceOf(pick(operators)),
		gen.SliceOf(gen.AnyString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestProperty_ValuesNeverReachText: replacing every value with hostile
// content leaves the statement text unchanged; only bindings differ.
func TestProperty_ValuesNeverReachText(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("text is independent of values", prop.ForAll(
		func(fields []string, ops []string, values []string, apply []bool) bool {
			for i := range values {
				values[i] = attacks[i%len(attacks)] + values[i]
			}
			filters := filtersFrom(fields, ops, values, apply)
			innocuous := make([]query.Filter, len(filters))
			for i, f := range filters {
				f.Value = "x"
				innocuous[i] = f
			}
			attack, err := query.New(usersBase).Build(filters)
			if err != nil {
				return false
			}
			plain, err := query.New(usersBase).Build(innocuous)
			if err != nil {
				return false
			}
			if attack.Text != plain.Text || !reflect.DeepEqual(attack.Names, plain.Names) {
				return false
			}
			for i, name := range attack.Names {
				want := ""
				applied := 0
				for _, f := range filters {
					if f.Apply {
						if applied == i {
							want = f.Value.(string)
						}
						applied++
					}
				}
				if attack.Bindings[name] != want {
					return false
				}
			}
			return !strings.Contains(attack.Text, "DROP")
		},
		gen.SliceOf(pick(fieldNames)),
		gen.SliceOf(pick(operators)),
		gen.SliceOf(gen.AnyString()),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
