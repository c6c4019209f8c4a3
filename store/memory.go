package store

import (
	"sort"
	"sync"
)

// MemoryEngine keeps encoded collections in memory. Data is lost on
// restart. Blobs are stored encoded so callers never share maps with the
// engine.
type MemoryEngine struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{blobs: make(map[string][]byte)}
}

func (m *MemoryEngine) Read(path string) (Collection, error) {
	m.mu.RLock()
	data, ok := m.blobs[path]
	m.mu.RUnlock()
	return decodeOrEmpty(path, data, ok)
}

func (m *MemoryEngine) Write(path string, c Collection) error {
	data, err := encode(c)
	if err != nil {
		return &WriteError{Path: path, Op: "encode", Err: err}
	}
	m.mu.Lock()
	m.blobs[path] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryEngine) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.blobs))
	for p := range m.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryEngine) Close() error { return nil }

