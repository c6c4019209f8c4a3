package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document is one untyped record. Callers key documents by an "id" field;
// the store itself does not look at it.
type Document map[string]any

// ID returns the document's "id" field, or "" if it is missing or not a
// string.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Collection is the full, ordered content of one collection.
type Collection []Document

// Index returns the position of the document with the given id, or -1.
func (c Collection) Index(id string) int {
	for i, doc := range c {
		if doc.ID() == id {
			return i
		}
	}
	return -1
}

// Find returns the document with the given id, or nil.
func (c Collection) Find(id string) Document {
	if i := c.Index(id); i >= 0 {
		return c[i]
	}
	return nil
}

// Engine reads and writes whole collections. Engines do not serialize their
// callers; use Store for anything that may run concurrently.
type Engine interface {
	// Read returns the collection stored at path. A missing collection is
	// empty, not an error. Unparseable content is a *DecodeError.
	Read(path string) (Collection, error)

	// Write replaces the collection at path with c. Either the whole of c
	// becomes visible or nothing changes; failures are *WriteError.
	Write(path string, c Collection) error

	// List returns the paths of every stored collection.
	List() ([]string, error)

	Close() error
}

var (
	// ErrNoDocument is returned by id-based transforms when no document
	// has the requested id.
	ErrNoDocument = errors.New("document not found")

	// ErrInvalidCollection is returned for names that are not usable as a
	// file name inside the data directory.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrLocked is returned by Open when another process holds the data
	// directory.
	ErrLocked = errors.New("data directory is locked by another process")
)

// DecodeError reports stored content that is not a JSON array of objects.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// WriteError reports a failed write. Op names the step that failed. The
// previously stored content is unchanged.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// TransformError wraps an error returned by an update's transform. Nothing
// was written.
type TransformError struct {
	Collection string
	Err        error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("update %s: %v", e.Collection, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

func encode(c Collection) ([]byte, error) {
	if c == nil {
		c = Collection{}
	}
	return json.MarshalIndent(c, "", "  ")
}

func decode(path string, data []byte) (Collection, error) {
	var c Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if c == nil {
		// JSON null
		c = Collection{}
	}
	return c, nil
}

// decodeOrEmpty treats an absent blob as an empty collection.
func decodeOrEmpty(path string, data []byte, found bool) (Collection, error) {
	if !found {
		return Collection{}, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodeError{Path: path, Err: errors.New("empty content")}
	}
	return decode(path, data)
}
