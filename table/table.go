// Package table provides a validated, key-indexed record table. Every
// record in a Table passed schema validation when it was inserted, and no
// two records share a key tuple.
package table

import (
	"iter"
	"sync"

	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/schema"
)

// Table is an ordered collection of records bound to one Schema.
// Safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	schema *schema.Schema
	rows   []schema.Record
	keys   []schema.Key
	index  map[string]int
}

// New creates an empty table. The schema must declare at least one key field.
func New(s *schema.Schema) (*Table, error) {
	if s == nil {
		return nil, errs.New(errs.CategorySchema, errs.CodeMalformedSchema, "table requires a schema")
	}
	if len(s.KeyFields()) == 0 {
		return nil, errs.New(errs.CategorySchema, errs.CodeMalformedSchema, "table schema must declare at least one key field")
	}
	return &Table{schema: s, index: make(map[string]int)}, nil
}

// Schema returns the schema the table is bound to.
func (t *Table) Schema() *schema.Schema {
	return t.schema
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Insert validates rec and appends it. On any rejection the table is left
// unchanged and the result says why.
func (t *Table) Insert(rec schema.Record) InsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(rec)
}

func (t *Table) insertLocked(rec schema.Record) InsertResult {
	key, violations := t.check(rec)
	if len(violations) > 0 {
		return InsertResult{Position: -1, Violations: violations}
	}
	id := key.String()
	if _, exists := t.index[id]; exists {
		return InsertResult{Position: -1, Key: key, Duplicate: true, keyFields: t.schema.KeyFields()}
	}

	pos := len(t.rows)
	t.rows = append(t.rows, rec.Clone())
	t.keys = append(t.keys, key)
	t.index[id] = pos
	return InsertResult{Position: pos, Key: key, keyFields: t.schema.KeyFields()}
}

// check runs shape validation and key extraction, returning the key and
// the combined violation list. A key field that is both required and
// missing is reported once.
func (t *Table) check(rec schema.Record) (schema.Key, []schema.Violation) {
	violations := t.schema.ValidateShape(rec).Violations
	key, missing := t.schema.KeyOf(rec)
	for _, m := range missing {
		reported := false
		for _, v := range violations {
			if v.Field == m.Field && v.Kind == schema.MissingRequired {
				reported = true
				break
			}
		}
		if !reported {
			violations = append(violations, m)
		}
	}
	return key, violations
}

// Validate runs the same checks as Insert without modifying the table,
// except that it does not look for duplicate keys.
func (t *Table) Validate(rec schema.Record) schema.Result {
	_, violations := t.check(rec)
	return schema.Result{Violations: violations}
}

// Remove deletes the record with key. It reports whether a record was removed.
func (t *Table) Remove(key schema.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(t.canonical(key).String())
}

func (t *Table) removeLocked(id string) bool {
	pos, ok := t.index[id]
	if !ok {
		return false
	}

	// Copy rather than shift in place so traversals already in progress keep
	// their snapshot.
	rows := make([]schema.Record, 0, len(t.rows)-1)
	rows = append(rows, t.rows[:pos]...)
	rows = append(rows, t.rows[pos+1:]...)
	keys := make([]schema.Key, 0, len(t.keys)-1)
	keys = append(keys, t.keys[:pos]...)
	keys = append(keys, t.keys[pos+1:]...)

	t.rows, t.keys = rows, keys
	delete(t.index, id)
	for i := pos; i < len(t.keys); i++ {
		t.index[t.keys[i].String()] = i
	}
	return true
}

// Replace swaps the record stored under key for rec, modeled as remove then
// insert: the replacement is appended at the end. rec may carry a different
// key as long as that key is not taken by another record. If key is absent
// found is false and nothing changes; if rec is rejected the original
// record stays in place.
func (t *Table) Replace(key schema.Key, rec schema.Record) (res InsertResult, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.canonical(key).String()
	if _, ok := t.index[id]; !ok {
		return InsertResult{Position: -1}, false
	}

	newKey, violations := t.check(rec)
	if len(violations) > 0 {
		return InsertResult{Position: -1, Violations: violations}, true
	}
	if newID := newKey.String(); newID != id {
		if _, taken := t.index[newID]; taken {
			return InsertResult{Position: -1, Key: newKey, Duplicate: true, keyFields: t.schema.KeyFields()}, true
		}
	}

	t.removeLocked(id)
	return t.insertLocked(rec), true
}

// Get returns a copy of the record stored under key.
func (t *Table) Get(key schema.Key) (schema.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.index[t.canonical(key).String()]
	if !ok {
		return nil, false
	}
	return t.rows[pos].Clone(), true
}

// Scan returns a traversal of the records in insertion order. Each call to
// the returned sequence starts a fresh traversal over a snapshot taken when
// that traversal begins. Records are yielded as copies.
func (t *Table) Scan() iter.Seq[schema.Record] {
	return func(yield func(schema.Record) bool) {
		t.mu.RLock()
		snapshot := t.rows[:len(t.rows):len(t.rows)]
		t.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// Keys returns the key tuples in insertion order.
func (t *Table) Keys() []schema.Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]schema.Key(nil), t.keys...)
}

func (t *Table) canonical(key schema.Key) schema.Key {
	return t.schema.NewKey(key...)
}
