// Package store defines the persistence interface for collections and its
// implementations. A store keeps, per collection, the schema document and
// the accepted records in insertion order. It does not validate anything:
// records reach a store only after a table has accepted them.
package store

import (
	"bytes"
	"encoding/json"
)

// Entry is one persisted record under its encoded key.
type Entry struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data"`
}

// Store is the interface that all backing stores must implement.
type Store interface {
	// GetAll returns every record in a collection in insertion order.
	GetAll(collection string) ([]Entry, error)

	// Get returns a single record by key, or nil if not found.
	Get(collection, key string) (map[string]any, error)

	// Put appends a record under a new key, or replaces the record stored
	// under an existing key in place.
	Put(collection, key string, data map[string]any) error

	// Delete removes a record. Returns true if it existed.
	Delete(collection, key string) (bool, error)

	// DeleteCollection removes every record of a collection.
	DeleteCollection(collection string) error

	// ListCollections returns the names of all collections that contain data.
	ListCollections() ([]string, error)

	// GetSchema returns the schema document for a collection, or nil.
	GetSchema(collection string) (map[string]any, error)

	// PutSchema stores a schema document for a collection.
	PutSchema(collection string, schema map[string]any) error

	// DeleteSchema removes the schema for a collection. Returns true if it existed.
	DeleteSchema(collection string) (bool, error)

	// ListSchemas returns all schemas as collection_name -> schema.
	ListSchemas() (map[string]map[string]any, error)

	// Close releases any resources held by the store.
	Close() error
}

// decodeDoc unmarshals a JSON object keeping numbers as json.Number, so
// integers survive a round trip exactly.
func decodeDoc(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// deepCopy returns a deep copy of a document by round-tripping through JSON.
func deepCopy(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	b, _ := json.Marshal(src)
	dst, _ := decodeDoc(b)
	return dst
}

func decodeEntry(b []byte, e *Entry) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(e)
}

func decodeEntries(b []byte, entries *[]Entry) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(entries)
}
