// Package executor runs built statements against the records of a table.
//
// The SQLite executor copies a table snapshot into a private in-memory
// SQLite database, creates one column per declared field and then runs the
// statement with its bindings. Every Execute call gets its own database, so
// the executor holds no state between calls.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/query"
	"github.com/stevemurr/itable/schema"
)

// Result holds the rows a statement produced, in the order SQLite returned
// them.
type Result struct {
	Columns []string        `json:"columns"`
	Rows    []schema.Record `json:"rows"`
}

// SQLite executes statements with github.com/mattn/go-sqlite3.
type SQLite struct{}

func NewSQLite() *SQLite {
	return &SQLite{}
}

// Execute loads rows into a table named name shaped by s and runs stmt
// against it.
func (e *SQLite) Execute(ctx context.Context, s *schema.Schema, name string, rows iter.Seq[schema.Record], stmt query.Statement) (*Result, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, failed("open", err)
	}
	defer db.Close()
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createTable(s, name)); err != nil {
		return nil, failed("create table", err)
	}
	if err := load(ctx, db, s, name, rows); err != nil {
		return nil, err
	}

	args := make([]any, len(stmt.Names))
	for i, n := range stmt.Names {
		args[i] = sql.Named(n, bindValue(stmt.Bindings[n]))
	}
	res, err := db.QueryContext(ctx, stmt.Text, args...)
	if err != nil {
		return nil, failed("query", err)
	}
	defer res.Close()

	columns, err := res.Columns()
	if err != nil {
		return nil, failed("columns", err)
	}
	out := &Result{Columns: columns, Rows: []schema.Record{}}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	for res.Next() {
		if err := res.Scan(valuePtrs...); err != nil {
			return nil, failed("scan", err)
		}
		row := make(schema.Record, len(columns))
		for i, col := range columns {
			row[col] = columnValue(s, col, values[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, failed("rows", err)
	}
	return out, nil
}

func failed(step string, err error) error {
	return errs.Wrap(errs.CategoryStorage, errs.CodeExecutionFailed, "execute: "+step, err)
}

func columnType(t schema.Type) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeNumber:
		return "REAL"
	case schema.TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func createTable(s *schema.Schema, name string) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(query.QuoteIdentifier(name))
	sb.WriteString(" (")
	for i, f := range s.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(query.QuoteIdentifier(f.Name))
		sb.WriteString(" ")
		sb.WriteString(columnType(f.Type))
	}
	if key := s.KeyFields(); len(key) > 0 {
		quoted := make([]string, len(key))
		for i, k := range key {
			quoted[i] = query.QuoteIdentifier(k)
		}
		sb.WriteString(", PRIMARY KEY (")
		sb.WriteString(strings.Join(quoted, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(")")
	return sb.String()
}

func load(ctx context.Context, db *sql.DB, s *schema.Schema, name string, rows iter.Seq[schema.Record]) error {
	fields := s.Fields()
	columns := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = query.QuoteIdentifier(f.Name)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		query.QuoteIdentifier(name), strings.Join(columns, ", "), strings.Join(marks, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return failed("begin", err)
	}
	defer tx.Rollback()
	ins, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return failed("prepare", err)
	}
	defer ins.Close()

	args := make([]any, len(fields))
	for rec := range rows {
		for i, f := range fields {
			args[i] = storeValue(s, f.Name, rec[f.Name])
		}
		if _, err := ins.ExecContext(ctx, args...); err != nil {
			return failed("load", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return failed("commit", err)
	}
	return nil
}

// storeValue converts a record value to what the column holds. Objects and
// arrays are stored as JSON text.
func storeValue(s *schema.Schema, field string, v any) any {
	if v == nil {
		return nil
	}
	v = s.Canonical(field, v)
	switch t, _ := s.FieldType(field); t {
	case schema.TypeObject, schema.TypeArray:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return bindValue(v)
}

// bindValue converts a value the driver cannot bind directly.
func bindValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any, schema.Record:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v
}

// columnValue turns a scanned value back into the declared type of col.
// Columns that are not schema fields, such as expressions, are only
// normalized from []byte to string.
func columnValue(s *schema.Schema, col string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	t, ok := s.FieldType(col)
	if !ok {
		return v
	}
	switch t {
	case schema.TypeBoolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case bool:
			return x
		}
	case schema.TypeNumber:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case schema.TypeObject, schema.TypeArray:
		if str, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(str), &out); err == nil {
				return out
			}
		}
	}
	return v
}
