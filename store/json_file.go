package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  _schemas.json   # schema registry
//	  employees.json  # "employees" records, an array of {key, data} in insertion order
type JsonFileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileStore{dir: dir}, nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *JsonFileStore) schemasPath() string {
	return filepath.Join(s.dir, "_schemas.json")
}

func (s *JsonFileStore) saveFile(path string, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *JsonFileStore) loadSchemas() (map[string]any, error) {
	data, err := os.ReadFile(s.schemasPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	result, err := decodeDoc(data)
	if err != nil {
		return map[string]any{}, nil
	}
	return result, nil
}

// loadCollection loads a collection file as an ordered entry list.
func (s *JsonFileStore) loadCollection(collection string) ([]Entry, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := decodeEntries(data, &entries); err != nil {
		return []Entry{}, nil
	}
	return entries, nil
}

func indexOf(entries []Entry, key string) int {
	for i, e := range entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func (s *JsonFileStore) GetAll(collection string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadCollection(collection)
}

func (s *JsonFileStore) Get(collection, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	if i := indexOf(entries, key); i >= 0 {
		return entries[i].Data, nil
	}
	return nil, nil
}

func (s *JsonFileStore) Put(collection, key string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadCollection(collection)
	if err != nil {
		return err
	}
	if i := indexOf(entries, key); i >= 0 {
		entries[i].Data = data
	} else {
		entries = append(entries, Entry{Key: key, Data: data})
	}
	return s.saveFile(s.collectionPath(collection), entries)
}

func (s *JsonFileStore) Delete(collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadCollection(collection)
	if err != nil {
		return false, err
	}
	i := indexOf(entries, key)
	if i < 0 {
		return false, nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	return true, s.saveFile(s.collectionPath(collection), entries)
}

func (s *JsonFileStore) DeleteCollection(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.collectionPath(collection)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *JsonFileStore) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		coll := strings.TrimSuffix(name, ".json")
		records, err := s.loadCollection(coll)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			names = append(names, coll)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileStore) GetSchema(collection string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schemas, err := s.loadSchemas()
	if err != nil {
		return nil, err
	}
	raw, ok := schemas[collection]
	if !ok {
		return nil, nil
	}
	if schema, ok := raw.(map[string]any); ok {
		return schema, nil
	}
	return nil, nil
}

func (s *JsonFileStore) PutSchema(collection string, schema map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schemas, err := s.loadSchemas()
	if err != nil {
		return err
	}
	schemas[collection] = schema
	return s.saveFile(s.schemasPath(), schemas)
}

func (s *JsonFileStore) DeleteSchema(collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schemas, err := s.loadSchemas()
	if err != nil {
		return false, err
	}
	if _, ok := schemas[collection]; !ok {
		return false, nil
	}
	delete(schemas, collection)
	return true, s.saveFile(s.schemasPath(), schemas)
}

func (s *JsonFileStore) ListSchemas() (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.loadSchemas()
	if err != nil {
		return nil, err
	}
	result := make(map[string]map[string]any, len(raw))
	for k, v := range raw {
		if schema, ok := v.(map[string]any); ok {
			result[k] = schema
		}
	}
	return result, nil
}

func (s *JsonFileStore) Close() error {
	return nil
}
