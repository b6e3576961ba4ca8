package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/goalrun/internal/model"
)

// Run is one driver session recorded in the ledger.
type Run struct {
	ID          string
	GoalID      string
	StartedAt   time.Time
	GenesisHash string
}

// StartRun registers a new run for goalID and returns its generated ID.
func (db *DB) StartRun(goalID string) (string, error) {
	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		return "", fmt.Errorf("generating run ID: %w", err)
	}
	query := `INSERT INTO runs (id, goal_id, started_at, genesis_hash) VALUES (?, ?, ?, ?)`
	_, err = db.conn.Exec(query, runID, goalID, db.now().Format(time.RFC3339Nano), GenesisHash)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return runID, nil
}

// Runs lists every run, most recent first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.conn.Query(`SELECT id, goal_id, started_at, genesis_hash FROM runs ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent run for goalID. ok is false when the goal
// has never been run.
func (db *DB) LatestRun(goalID string) (Run, bool, error) {
	row := db.conn.QueryRow(
		`SELECT id, goal_id, started_at, genesis_hash FROM runs WHERE goal_id = ? ORDER BY rowid DESC LIMIT 1`,
		goalID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var r Run
	var startedAt string
	if err := s.Scan(&r.ID, &r.GoalID, &startedAt, &r.GenesisHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing run start time: %w", err)
	}
	r.StartedAt = t
	return r, nil
}
