// Package ledger stores transition records in SQLite as a per-run hash chain,
// so an exported log can be checked for edits after the fact.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	goal_id      TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	genesis_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	seq_index    INTEGER NOT NULL,
	timestamp    TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	state        TEXT NOT NULL,
	note         TEXT NOT NULL,
	attempts     INTEGER NOT NULL,
	prev_hash    TEXT NOT NULL,
	current_hash TEXT NOT NULL,
	UNIQUE (run_id, seq_index)
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events (run_id, seq_index);
`

// DB wraps the SQLite connection backing the ledger.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// One writer at a time; the chain head is read and extended inside a transaction.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("executing schema: %w", err)
	}

	return &DB{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
