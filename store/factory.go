package store

import (
	"fmt"
	"path/filepath"
)

// NewEngine creates an Engine based on the backend name.
//
// Supported backends:
//
//	"json"   - one JSON file per collection in dataDir (default)
//	"sqlite" - SQLite database at dataDir/fansite.db
//	"bolt"   - bbolt database at dataDir/fansite.bolt
//	"memory" - In-memory (ephemeral, for testing)
func NewEngine(backend, dataDir string) (Engine, error) {
	switch backend {
	case "json", "":
		return NewFileEngine(dataDir)
	case "sqlite":
		return NewSqliteEngine(filepath.Join(dataDir, "fansite.db"))
	case "bolt":
		return NewBoltEngine(filepath.Join(dataDir, "fansite.bolt"))
	case "memory":
		return NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, bolt, memory)", backend)
	}
}
