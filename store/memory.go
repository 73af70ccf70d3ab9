package store

import (
	"sort"
	"sync"
)

type memCollection struct {
	entries []Entry
	pos     map[string]int
}

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	schemas     map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		schemas:     make(map[string]map[string]any),
	}
}

func (m *MemoryStore) GetAll(collection string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return []Entry{}, nil
	}
	result := make([]Entry, len(coll.entries))
	for i, e := range coll.entries {
		result[i] = Entry{Key: e.Key, Data: deepCopy(e.Data)}
	}
	return result, nil
}

func (m *MemoryStore) Get(collection, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	i, ok := coll.pos[key]
	if !ok {
		return nil, nil
	}
	return deepCopy(coll.entries[i].Data), nil
}

func (m *MemoryStore) Put(collection, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = &memCollection{pos: make(map[string]int)}
		m.collections[collection] = coll
	}
	if i, exists := coll.pos[key]; exists {
		coll.entries[i].Data = deepCopy(data)
		return nil
	}
	coll.pos[key] = len(coll.entries)
	coll.entries = append(coll.entries, Entry{Key: key, Data: deepCopy(data)})
	return nil
}

func (m *MemoryStore) Delete(collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return false, nil
	}
	i, exists := coll.pos[key]
	if !exists {
		return false, nil
	}
	coll.entries = append(coll.entries[:i], coll.entries[i+1:]...)
	delete(coll.pos, key)
	for j := i; j < len(coll.entries); j++ {
		coll.pos[coll.entries[j].Key] = j
	}
	return true, nil
}

func (m *MemoryStore) DeleteCollection(collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryStore) ListCollections() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, coll := range m.collections {
		if len(coll.entries) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) GetSchema(collection string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[collection]
	if !ok {
		return nil, nil
	}
	return deepCopy(s), nil
}

func (m *MemoryStore) PutSchema(collection string, schema map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[collection] = deepCopy(schema)
	return nil
}

func (m *MemoryStore) DeleteSchema(collection string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[collection]; !ok {
		return false, nil
	}
	delete(m.schemas, collection)
	return true, nil
}

func (m *MemoryStore) ListSchemas() (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]map[string]any, len(m.schemas))
	for k, v := range m.schemas {
		result[k] = deepCopy(v)
	}
	return result, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
