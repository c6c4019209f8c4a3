package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileEngine stores each collection as a JSON file.
//
// Layout:
//
//	data_dir/
//	  members.json   # "members" collection
//	  news.json      # "news" collection
//
// Writes go to a temp file in the same directory which is synced and then
// renamed over the target, so readers only ever see a complete file.
type FileEngine struct {
	dir string

	// rename is swapped in tests to fail between temp write and commit.
	rename func(oldpath, newpath string) error
}

// Ext is the file extension of a collection file.
const Ext = ".json"

func NewFileEngine(dir string) (*FileEngine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileEngine{dir: dir, rename: os.Rename}, nil
}

func (e *FileEngine) Read(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return decodeOrEmpty(path, nil, false)
	}
	if err != nil {
		return nil, err
	}
	return decodeOrEmpty(path, data, true)
}

func (e *FileEngine) Write(path string, c Collection) error {
	data, err := encode(c)
	if err != nil {
		return &WriteError{Path: path, Op: "encode", Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: path, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: op, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := e.rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &WriteError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// List returns the collection files directly under the engine's directory.
// Temp files and names starting with "_" are skipped.
func (e *FileEngine) List() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, Ext) {
			continue
		}
		paths = append(paths, filepath.Join(e.dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func (e *FileEngine) Close() error { return nil }
