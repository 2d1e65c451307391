// Package store persists the durable coordination collections: actors,
// tasks, messages, activities, notifications, and scheduled jobs.
//
// All cross-actor coordination flows through these collections. Writes that
// race are resolved per record with optimistic version checks, never with
// cross-record locking.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced to callers; test with errors.Is.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict means a concurrent writer already advanced the
	// record's version. Callers should reread and retry a bounded number of
	// times before surfacing.
	ErrVersionConflict = errors.New("version conflict")
)

// Store wraps the SQLite database holding the durable collections.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read-only diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeList marshals a string slice for a JSON text column.
func encodeList(vals []string) string {
	if len(vals) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList unmarshals a JSON text column into a string slice.
func decodeList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil
	}
	return vals
}
