package store

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var collectionsBucket = []byte("collections")

// BoltEngine stores every collection as one key of a bbolt bucket. Each
// write is its own bolt transaction.
type BoltEngine struct {
	db *bolt.DB
}

func NewBoltEngine(dbPath string) (*BoltEngine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(collectionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltEngine{db: db}, nil
}

func (b *BoltEngine) Close() error {
	return b.db.Close()
}

func (b *BoltEngine) Read(path string) (Collection, error) {
	var data []byte
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(collectionsBucket).Get([]byte(path))
		if v != nil {
			found = true
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeOrEmpty(path, data, found)
}

func (b *BoltEngine) Write(path string, c Collection) error {
	data, err := encode(c)
	if err != nil {
		return &WriteError{Path: path, Op: "encode", Err: err}
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Put([]byte(path), data)
	})
	if err != nil {
		return &WriteError{Path: path, Op: "commit", Err: err}
	}
	return nil
}

func (b *BoltEngine) List() ([]string, error) {
	var paths []string
	err := b.db.View(func(tx *bolt.Tx) error {
		// bolt iterates keys in byte order
		return tx.Bucket(collectionsBucket).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	return paths, err
}
