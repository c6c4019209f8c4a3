package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteEngine stores every collection as one row of a SQLite database.
//
// Tables:
//
//	collections(path, data)  PRIMARY KEY (path)
//
// A write is a single upsert statement, so it is atomic on its own.
type SqliteEngine struct {
	db *sql.DB
}

func NewSqliteEngine(dbPath string) (*SqliteEngine, error) {
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
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		path TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteEngine{db: db}, nil
}

func (s *SqliteEngine) Close() error {
	return s.db.Close()
}

func (s *SqliteEngine) Read(path string) (Collection, error) {
	var raw string
	err := s.db.QueryRow("SELECT data FROM collections WHERE path = ?", path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decodeOrEmpty(path, nil, false)
	}
	if err != nil {
		return nil, err
	}
	return decodeOrEmpty(path, []byte(raw), true)
}

func (s *SqliteEngine) Write(path string, c Collection) error {
	data, err := encode(c)
	if err != nil {
		return &WriteError{Path: path, Op: "encode", Err: err}
	}
	_, err = s.db.Exec(
		`INSERT INTO collections (path, data) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
		path, string(data),
	)
	if err != nil {
		return &WriteError{Path: path, Op: "upsert", Err: err}
	}
	return nil
}

func (s *SqliteEngine) List() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM collections ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

