package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteStore stores all collections in a single SQLite database.
//
// Tables:
//
//	records(seq, collection, key, data)  UNIQUE (collection, key), seq gives insertion order
//	schemas(collection, schema)          PRIMARY KEY (collection)
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		UNIQUE (collection, key)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schemas (
		collection TEXT PRIMARY KEY,
		schema TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) GetAll(collection string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		"SELECT key, data FROM records WHERE collection = :collection ORDER BY seq",
		sql.Named("collection", collection),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Entry{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc([]byte(raw))
		if err != nil {
			continue
		}
		result = append(result, Entry{Key: key, Data: doc})
	}
	return result, rows.Err()
}

func (s *SqliteStore) Get(collection, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRow(
		"SELECT data FROM records WHERE collection = :collection AND key = :key",
		sql.Named("collection", collection), sql.Named("key", key),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc([]byte(raw))
}

func (s *SqliteStore) Put(collection, key string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO records (collection, key, data) VALUES (:collection, :key, :data)
		 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`,
		sql.Named("collection", collection), sql.Named("key", key), sql.Named("data", string(b)),
	)
	return err
}

func (s *SqliteStore) Delete(collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		"DELETE FROM records WHERE collection = :collection AND key = :key",
		sql.Named("collection", collection), sql.Named("key", key),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SqliteStore) DeleteCollection(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM records WHERE collection = :collection", sql.Named("collection", collection))
	return err
}

func (s *SqliteStore) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT DISTINCT collection FROM records ORDER BY collection")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SqliteStore) GetSchema(collection string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRow(
		"SELECT schema FROM schemas WHERE collection = :collection",
		sql.Named("collection", collection),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc([]byte(raw))
}

func (s *SqliteStore) PutSchema(collection string, schema map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO schemas (collection, schema) VALUES (:collection, :schema)
		 ON CONFLICT(collection) DO UPDATE SET schema = excluded.schema`,
		sql.Named("collection", collection), sql.Named("schema", string(b)),
	)
	return err
}

func (s *SqliteStore) DeleteSchema(collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM schemas WHERE collection = :collection", sql.Named("collection", collection))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SqliteStore) ListSchemas() (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT collection, schema FROM schemas")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		schema, err := decodeDoc([]byte(raw))
		if err != nil {
			continue
		}
		result[name] = schema
	}
	return result, rows.Err()
}
