package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/goalrun/internal/model"
)

// Entry is a stored transition record with its position in the chain.
type Entry struct {
	ID       string
	RunID    string
	Seq      int
	Record   model.TransitionRecord
	PrevHash string
	Hash     string
}

// Append chains records onto the end of runID's ledger in one transaction.
func (db *DB) Append(runID string, records ...model.TransitionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var genesis string
	if err := tx.QueryRow(`SELECT genesis_hash FROM runs WHERE id = ?`, runID).Scan(&genesis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unknown run %s", runID)
		}
		return fmt.Errorf("querying run: %w", err)
	}

	seq, prevHash := -1, genesis
	err = tx.QueryRow(
		`SELECT seq_index, current_hash FROM events WHERE run_id = ? ORDER BY seq_index DESC LIMIT 1`,
		runID,
	).Scan(&seq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("querying chain head: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO events (
			id, run_id, seq_index, timestamp, task_id, state, note, attempts, prev_hash, current_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		seq++
		e := Entry{
			ID:       uuid.New().String(),
			RunID:    runID,
			Seq:      seq,
			Record:   rec,
			PrevHash: prevHash,
		}
		e.Record.Timestamp = rec.Timestamp.UTC()
		if e.Hash, err = CalculateEntryHash(e.PrevHash, e.payload()); err != nil {
			return fmt.Errorf("hashing seq %d: %w", seq, err)
		}
		_, err := stmt.Exec(
			e.ID, e.RunID, e.Seq, e.Record.Timestamp.Format(time.RFC3339Nano),
			e.Record.TaskID, string(e.Record.State), e.Record.Note, e.Record.Attempts,
			e.PrevHash, e.Hash,
		)
		if err != nil {
			return fmt.Errorf("inserting seq %d: %w", seq, err)
		}
		prevHash = e.Hash
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Entries returns runID's chain ordered by sequence.
func (db *DB) Entries(runID string) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, seq_index, timestamp, task_id, state, note, attempts, prev_hash, current_hash
		FROM events
		WHERE run_id = ?
		ORDER BY seq_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var timestamp, state string
		err := rows.Scan(
			&e.ID, &e.RunID, &e.Seq, &timestamp, &e.Record.TaskID, &state,
			&e.Record.Note, &e.Record.Attempts, &e.PrevHash, &e.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp at seq %d: %w", e.Seq, err)
		}
		e.Record.Timestamp = t
		// Stored states are hashed as-is; Verify rejects anything unknown.
		e.Record.State = model.State(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Records returns the transition records of runID in append order.
func (db *DB) Records(runID string) ([]model.TransitionRecord, error) {
	entries, err := db.Entries(runID)
	if err != nil {
		return nil, err
	}
	out := make([]model.TransitionRecord, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out, nil
}

func (e *Entry) payload() map[string]any {
	return map[string]any{
		"id":        e.ID,
		"run_id":    e.RunID,
		"seq_index": e.Seq,
		"timestamp": e.Record.Timestamp.UTC().Format(time.RFC3339Nano),
		"task_id":   e.Record.TaskID,
		"state":     string(e.Record.State),
		"note":      e.Record.Note,
		"attempts":  e.Record.Attempts,
	}
}
