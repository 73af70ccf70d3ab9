package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	bolt "go.etcd.io/bbolt"
)

const (
	schemasBucketName     = "schemas"
	collectionsBucketName = "collections"
	rowsBucketName        = "rows"
	keysBucketName        = "keys"
)

// BoltStore keeps collections in a single bbolt file.
//
// Layout:
//
//	schemas/<collection>                  -> schema JSON
//	collections/<collection>/rows/<seq>   -> snappy-compressed entry JSON, seq is big-endian so cursor order is insertion order
//	collections/<collection>/keys/<key>   -> seq
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(schemasBucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(collectionsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// collectionBuckets returns the rows and keys buckets of a collection, or
// nils when the collection has never been written.
func collectionBuckets(tx *bolt.Tx, collection string) (rows, keys *bolt.Bucket) {
	coll := tx.Bucket([]byte(collectionsBucketName)).Bucket([]byte(collection))
	if coll == nil {
		return nil, nil
	}
	return coll.Bucket([]byte(rowsBucketName)), coll.Bucket([]byte(keysBucketName))
}

func decodeRow(v []byte) (Entry, error) {
	var e Entry
	raw, err := snappy.Decode(nil, v)
	if err != nil {
		return e, err
	}
	err = decodeEntry(raw, &e)
	return e, err
}

func (s *BoltStore) GetAll(collection string) ([]Entry, error) {
	result := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		rows, _ := collectionBuckets(tx, collection)
		if rows == nil {
			return nil
		}
		return rows.ForEach(func(k, v []byte) error {
			e, err := decodeRow(v)
			if err != nil {
				return fmt.Errorf("decode %s row %d: %w", collection, binary.BigEndian.Uint64(k), err)
			}
			result = append(result, e)
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) Get(collection, key string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		rows, keys := collectionBuckets(tx, collection)
		if rows == nil {
			return nil
		}
		seq := keys.Get([]byte(key))
		if seq == nil {
			return nil
		}
		e, err := decodeRow(rows.Get(seq))
		if err != nil {
			return err
		}
		doc = e.Data
		return nil
	})
	return doc, err
}

func (s *BoltStore) Put(collection, key string, data map[string]any) error {
	raw, err := json.Marshal(Entry{Key: key, Data: data})
	if err != nil {
		return err
	}
	b := snappy.Encode(nil, raw)
	return s.db.Update(func(tx *bolt.Tx) error {
		coll, err := tx.Bucket([]byte(collectionsBucketName)).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		rows, err := coll.CreateBucketIfNotExists([]byte(rowsBucketName))
		if err != nil {
			return err
		}
		keys, err := coll.CreateBucketIfNotExists([]byte(keysBucketName))
		if err != nil {
			return err
		}
		if seq := keys.Get([]byte(key)); seq != nil {
			return rows.Put(append([]byte(nil), seq...), b)
		}
		next, err := rows.NextSequence()
		if err != nil {
			return err
		}
		seq := seqKey(next)
		if err := keys.Put([]byte(key), seq); err != nil {
			return err
		}
		return rows.Put(seq, b)
	})
}

func (s *BoltStore) Delete(collection, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		rows, keys := collectionBuckets(tx, collection)
		if rows == nil {
			return nil
		}
		seq := keys.Get([]byte(key))
		if seq == nil {
			return nil
		}
		existed = true
		// seq points into the page; copy before deleting
		seq = append([]byte(nil), seq...)
		if err := keys.Delete([]byte(key)); err != nil {
			return err
		}
		return rows.Delete(seq)
	})
	return existed, err
}

func (s *BoltStore) DeleteCollection(collection string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(collectionsBucketName)).DeleteBucket([]byte(collection))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (s *BoltStore) ListCollections() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collectionsBucketName)).ForEach(func(name, _ []byte) error {
			rows, _ := collectionBuckets(tx, string(name))
			if rows == nil {
				return nil
			}
			if k, _ := rows.Cursor().First(); k != nil {
				names = append(names, string(name))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func (s *BoltStore) GetSchema(collection string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(schemasBucketName)).Get([]byte(collection))
		if raw == nil {
			return nil
		}
		var err error
		doc, err = decodeDoc(raw)
		return err
	})
	return doc, err
}

func (s *BoltStore) PutSchema(collection string, schema map[string]any) error {
	b, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(schemasBucketName)).Put([]byte(collection), b)
	})
}

func (s *BoltStore) DeleteSchema(collection string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(schemasBucketName))
		if b.Get([]byte(collection)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(collection))
	})
	return existed, err
}

func (s *BoltStore) ListSchemas() (map[string]map[string]any, error) {
	result := make(map[string]map[string]any)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(schemasBucketName)).ForEach(func(k, v []byte) error {
			doc, err := decodeDoc(v)
			if err != nil {
				return fmt.Errorf("decode schema %s: %w", k, err)
			}
			result[string(k)] = doc
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
