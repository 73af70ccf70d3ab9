// Package query assembles parameterized SQL statements from a base
// statement and an ordered list of optional filters.
//
// The package has one rule: values never appear in statement text. Every
// value travels in the binding map under a `:name` placeholder, and the
// only caller-controlled strings that reach the text are field names,
// which must be plain identifiers.
//
// Basic usage:
//
//	stmt, err := query.New(query.SelectAll("users")).Build([]query.Filter{
//		query.F("name", "=", "Alice"),
//		query.Optional("age", ">=", minAge), // skipped when minAge is nil
//		query.F("status", "IN", []string{"active", "trial"}),
//	})
//
//	rows, err := db.QueryContext(ctx, stmt.Text, stmt.Args()...)
//
// Output is deterministic: the same filters in the same order give
// byte-identical text and the same bindings, so statements can be cached
// and compared in tests.
package query
