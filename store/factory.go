package store

import (
	"fmt"
	"path/filepath"
)

// Backends lists the names accepted by New.
var Backends = []string{"json", "sqlite", "bolt", "memory"}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"   - JSON files in dataDir (default)
//	"sqlite" - SQLite database at dataDir/itable.db
//	"bolt"   - bbolt database at dataDir/itable.bolt
//	"memory" - In-memory (ephemeral, for testing)
func New(backend, dataDir string) (Store, error) {
	switch backend {
	case "json", "":
		return NewJsonFileStore(dataDir)
	case "sqlite":
		return NewSqliteStore(filepath.Join(dataDir, "itable.db"))
	case "bolt":
		return NewBoltStore(filepath.Join(dataDir, "itable.bolt"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, bolt, memory)", backend)
	}
}
