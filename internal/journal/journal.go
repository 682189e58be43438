// Package journal records session lifecycle events in a per-session
// temporary SQLite file. The file lives in the session's temp directory
// and is removed by the resource ledger at teardown; nothing persists
// beyond the session.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event kinds recorded over a session's life.
const (
	KindLaunch        = "launch"
	KindMacro         = "macro"
	KindAnsiChunk     = "ansi-chunk"
	KindPayloadExited = "payload-exited"
	KindHostExited    = "host-exited"
)

// Event is one recorded entry.
type Event struct {
	ID     int64
	At     time.Time
	Kind   string
	Detail string
}

// Journal is the per-session event log.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open creates (or reopens) the journal file for a session inside dir.
func Open(dir, sessionID string) (*Journal, error) {
	path := filepath.Join(dir, sessionID+".journal.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		at     TIMESTAMP NOT NULL,
		kind   TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// Record appends one event. Recording on a closed journal is a no-op so
// late background writers do not race teardown.
func (j *Journal) Record(kind, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	_, err := j.db.Exec("INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)",
		time.Now().UTC(), kind, detail)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	return nil
}

// Events returns all recorded events in insertion order.
func (j *Journal) Events() ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	rows, err := j.db.Query("SELECT id, at, kind, detail FROM events ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.At, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the database handle. Idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// Remove closes the journal and deletes its file. Registered with the
// session ledger so the artifact never outlives the session.
func (j *Journal) Remove() error {
	if err := j.Close(); err != nil {
		return err
	}
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
