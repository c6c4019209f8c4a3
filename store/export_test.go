package store

import (
	"os"

	bolt "go.etcd.io/bbolt"
)

// SetRename replaces the rename step of e's write path.
func SetRename(e *FileEngine, fn func(oldpath, newpath string) error) {
	e.rename = fn
}

// PutRaw stores data at path without encoding it, for planting corrupt
// content in non-file engines.
func PutRaw(e Engine, path string, data []byte) error {
	switch e := e.(type) {
	case *FileEngine:
		return os.WriteFile(path, data, 0o644)
	case *MemoryEngine:
		e.mu.Lock()
		e.blobs[path] = data
		e.mu.Unlock()
		return nil
	case *SqliteEngine:
		_, err := e.db.Exec(
			`INSERT INTO collections (path, data) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
			path, string(data),
		)
		return err
	case *BoltEngine:
		return e.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(collectionsBucket).Put([]byte(path), data)
		})
	}
	return nil
}
