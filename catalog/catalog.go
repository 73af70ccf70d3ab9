// Package catalog manages named collections. Each collection pairs a Schema
// with a validated Table and writes accepted records through to a Store, so
// a restarted catalog replays the same records in the same order.
package catalog

import (
	"context"
	"iter"
	"log"
	"sort"
	"sync"

	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/executor"
	"github.com/stevemurr/itable/query"
	"github.com/stevemurr/itable/schema"
	"github.com/stevemurr/itable/store"
	"github.com/stevemurr/itable/table"
)

// Executor runs a built statement against a snapshot of a collection.
type Executor interface {
	Execute(ctx context.Context, s *schema.Schema, name string, rows iter.Seq[schema.Record], stmt query.Statement) (*executor.Result, error)
}

type collection struct {
	// mu serializes mutations so the store sees them in table order
	mu    sync.Mutex
	table *table.Table
}

// Catalog is the set of collections backed by one Store.
// Safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	store       store.Store
	exec        Executor
	schemaOpts  []schema.Option
	collections map[string]*collection
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithExecutor sets the executor used by Query. The default is the SQLite
// executor.
func WithExecutor(e Executor) Option {
	return func(c *Catalog) { c.exec = e }
}

// WithSchemaOptions applies opts to every schema the catalog parses.
func WithSchemaOptions(opts ...schema.Option) Option {
	return func(c *Catalog) { c.schemaOpts = append(c.schemaOpts, opts...) }
}

// Open loads every collection from st. Stored records are replayed through
// Table.Insert; records the schema no longer accepts are logged and skipped.
func Open(st store.Store, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		store:       st,
		exec:        executor.NewSQLite(),
		collections: make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(c)
	}

	docs, err := st.ListSchemas()
	if err != nil {
		return nil, storageErr("list schemas", err)
	}
	for name, doc := range docs {
		s, err := schema.Parse(doc, c.schemaOpts...)
		if err != nil {
			log.Printf("catalog: skipping collection %q: %v", name, err)
			continue
		}
		tbl, err := table.New(s)
		if err != nil {
			log.Printf("catalog: skipping collection %q: %v", name, err)
			continue
		}
		entries, err := st.GetAll(name)
		if err != nil {
			return nil, storageErr("load "+name, err)
		}
		for _, e := range entries {
			if res := tbl.Insert(e.Data); !res.OK() {
				log.Printf("catalog: %s: skipping stored record %s: %v", name, e.Key, res.Err())
			}
		}
		c.collections[name] = &collection{table: tbl}
	}
	return c, nil
}

func storageErr(op string, err error) error {
	return errs.Wrap(errs.CategoryStorage, errs.CodeStorageFailed, op, err)
}

func notFound(name string) error {
	return errs.Newf(errs.CategoryCatalog, errs.CodeCollectionNotFound, "collection %q not found", name)
}

// ParseSchema parses a schema document with the catalog's schema options.
func (c *Catalog) ParseSchema(raw []byte) (*schema.Schema, error) {
	return schema.ParseJSON(raw, c.schemaOpts...)
}

func (c *Catalog) get(name string) (*collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coll, ok := c.collections[name]
	if !ok {
		return nil, notFound(name)
	}
	return coll, nil
}

// lock returns collection name with its mutation lock held. The lock is
// always taken before c.mu, and the collection is looked up again once it
// is held so a dropped or replaced collection is never written to.
func (c *Catalog) lock(name string) (*collection, error) {
	for {
		coll, err := c.get(name)
		if err != nil {
			return nil, err
		}
		coll.mu.Lock()
		c.mu.RLock()
		current := c.collections[name]
		c.mu.RUnlock()
		if current == coll {
			return coll, nil
		}
		coll.mu.Unlock()
	}
}

// PutSchema creates collection name with schema s, or swaps the schema of
// an existing collection that holds no records. created reports whether
// the collection is new.
func (c *Catalog) PutSchema(name string, s *schema.Schema) (created bool, err error) {
	if !query.ValidIdentifier(name) {
		return false, errs.Newf(errs.CategoryQuery, errs.CodeInvalidIdentifier,
			"%q is not a valid collection name", name)
	}
	tbl, err := table.New(s)
	if err != nil {
		return false, err
	}

	var existing *collection
	for {
		existing, _ = c.lock(name)
		c.mu.Lock()
		if c.collections[name] == existing {
			break
		}
		// created concurrently
		c.mu.Unlock()
		if existing != nil {
			existing.mu.Unlock()
		}
	}
	defer c.mu.Unlock()
	if existing != nil {
		defer existing.mu.Unlock()
		if existing.table.Len() > 0 {
			return false, errs.Newf(errs.CategoryCatalog, errs.CodeCollectionExists,
				"collection %q already holds records", name)
		}
	}
	if err := c.store.PutSchema(name, s.Document()); err != nil {
		return false, storageErr("put schema", err)
	}
	c.collections[name] = &collection{table: tbl}
	return existing == nil, nil
}

// Drop removes a collection with its schema and records.
func (c *Catalog) Drop(name string) error {
	coll, err := c.lock(name)
	if err != nil {
		return err
	}
	defer coll.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.DeleteCollection(name); err != nil {
		return storageErr("delete collection", err)
	}
	if _, err := c.store.DeleteSchema(name); err != nil {
		return storageErr("delete schema", err)
	}
	delete(c.collections, name)
	return nil
}

// Schema returns the schema of a collection.
func (c *Catalog) Schema(name string) (*schema.Schema, error) {
	coll, err := c.get(name)
	if err != nil {
		return nil, err
	}
	return coll.table.Schema(), nil
}

// Schemas returns every collection's schema by name.
func (c *Catalog) Schemas() map[string]*schema.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*schema.Schema, len(c.collections))
	for name, coll := range c.collections {
		out[name] = coll.table.Schema()
	}
	return out
}

// Collections returns the collection names in sorted order.
func (c *Catalog) Collections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.collections))
	for name := range c.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of records in a collection.
func (c *Catalog) Len(name string) (int, error) {
	coll, err := c.get(name)
	if err != nil {
		return 0, err
	}
	return coll.table.Len(), nil
}

// Insert validates rec and, when accepted, stores it. A rejected record is
// reported in the result with a nil error; err is only set when the
// collection is unknown or the store fails, in which case the table is
// rolled back.
func (c *Catalog) Insert(name string, rec schema.Record) (table.InsertResult, error) {
	coll, err := c.lock(name)
	if err != nil {
		return table.InsertResult{Position: -1}, err
	}
	defer coll.mu.Unlock()

	res := coll.table.Insert(rec)
	if !res.OK() {
		return res, nil
	}
	if err := c.store.Put(name, res.Key.String(), rec); err != nil {
		coll.table.Remove(res.Key)
		return table.InsertResult{Position: -1}, storageErr("put record", err)
	}
	return res, nil
}

// Get returns the record stored under key.
func (c *Catalog) Get(name string, key schema.Key) (schema.Record, bool, error) {
	coll, err := c.get(name)
	if err != nil {
		return nil, false, err
	}
	rec, ok := coll.table.Get(key)
	return rec, ok, nil
}

// Remove deletes the record stored under key and reports whether it existed.
func (c *Catalog) Remove(name string, key schema.Key) (bool, error) {
	coll, err := c.lock(name)
	if err != nil {
		return false, err
	}
	defer coll.mu.Unlock()

	s := coll.table.Schema()
	key = s.NewKey(key...)
	if _, ok := coll.table.Get(key); !ok {
		return false, nil
	}
	if _, err := c.store.Delete(name, key.String()); err != nil {
		return false, storageErr("delete record", err)
	}
	return coll.table.Remove(key), nil
}

// Replace swaps the record under key for rec, which moves to the end of
// the collection. found is false when no record has key.
func (c *Catalog) Replace(name string, key schema.Key, rec schema.Record) (res table.InsertResult, found bool, err error) {
	coll, err := c.lock(name)
	if err != nil {
		return table.InsertResult{Position: -1}, false, err
	}
	defer coll.mu.Unlock()

	key = coll.table.Schema().NewKey(key...)
	old, ok := coll.table.Get(key)
	if !ok {
		return table.InsertResult{Position: -1}, false, nil
	}
	res, found = coll.table.Replace(key, rec)
	if !res.OK() {
		return res, found, nil
	}

	if err := c.persistReplace(name, key, res.Key, rec); err != nil {
		// put the original back, at the end
		coll.table.Remove(res.Key)
		coll.table.Insert(old)
		if perr := c.store.Put(name, key.String(), old); perr != nil {
			log.Printf("catalog: %s: restoring record %s: %v", name, key, perr)
		}
		return table.InsertResult{Position: -1}, true, storageErr("replace record", err)
	}
	return res, true, nil
}

func (c *Catalog) persistReplace(name string, oldKey, newKey schema.Key, rec schema.Record) error {
	if _, err := c.store.Delete(name, oldKey.String()); err != nil {
		return err
	}
	return c.store.Put(name, newKey.String(), rec)
}

// Validate checks rec against the collection without storing it.
func (c *Catalog) Validate(name string, rec schema.Record) (schema.Result, error) {
	coll, err := c.get(name)
	if err != nil {
		return schema.Result{}, err
	}
	return coll.table.Validate(rec), nil
}

// Scan returns a traversal of a collection in insertion order.
func (c *Catalog) Scan(name string) (iter.Seq[schema.Record], error) {
	coll, err := c.get(name)
	if err != nil {
		return nil, err
	}
	return coll.table.Scan(), nil
}

// Build renders filters against a collection without running them. Filter
// fields must be declared by the collection's schema.
func (c *Catalog) Build(name string, filters []query.Filter) (query.Statement, error) {
	s, err := c.Schema(name)
	if err != nil {
		return query.Statement{}, err
	}
	return query.New(query.SelectAll(name), query.WithSchema(s)).Build(canonicalFilters(s, filters))
}

// Query builds filters against a collection and runs the statement on a
// snapshot of its records.
func (c *Catalog) Query(ctx context.Context, name string, filters []query.Filter) (query.Statement, *executor.Result, error) {
	coll, err := c.get(name)
	if err != nil {
		return query.Statement{}, nil, err
	}
	stmt, err := c.Build(name, filters)
	if err != nil {
		return query.Statement{}, nil, err
	}
	res, err := c.exec.Execute(ctx, coll.table.Schema(), name, coll.table.Scan(), stmt)
	if err != nil {
		return stmt, nil, err
	}
	return stmt, res, nil
}

// canonicalFilters converts filter values to the declared type of their
// field, so a JSON 1 binds as an integer against an integer column.
func canonicalFilters(s *schema.Schema, filters []query.Filter) []query.Filter {
	out := make([]query.Filter, len(filters))
	for i, f := range filters {
		if list, ok := f.Value.([]any); ok {
			vals := make([]any, len(list))
			for j, v := range list {
				vals[j] = s.Canonical(f.Field, v)
			}
			f.Value = vals
		} else {
			f.Value = s.Canonical(f.Field, f.Value)
		}
		out[i] = f
	}
	return out
}
