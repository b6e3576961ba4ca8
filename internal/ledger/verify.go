package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ucarion/jcs"
)

// GenesisHash is the prev hash of the first entry of every run.
var GenesisHash = strings.Repeat("0", 64)

var ErrChainBroken = errors.New("ledger: hash chain broken")

// ChainError reports the first entry that failed verification.
type ChainError struct {
	RunID  string
	Seq    int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger: run %s broken at seq %d: %s", e.RunID, e.Seq, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// CalculateEntryHash returns sha256(prevHash + canonical JSON of payload),
// hex encoded. Canonicalization (RFC 8785) makes the hash independent of
// map ordering.
func CalculateEntryHash(prevHash string, payload any) (string, error) {
	if len(prevHash) != 64 {
		return "", fmt.Errorf("invalid prev hash length %d", len(prevHash))
	}
	if payload == nil {
		return "", fmt.Errorf("payload must not be nil")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", err
	}
	canonical, err := jcs.Format(normalized)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes every hash of runID's chain and checks the linkage. It
// returns the number of entries checked; a broken chain yields a *ChainError
// matching ErrChainBroken.
func (db *DB) Verify(runID string) (int, error) {
	var genesis string
	if err := db.conn.QueryRow(`SELECT genesis_hash FROM runs WHERE id = ?`, runID).Scan(&genesis); err != nil {
		return 0, fmt.Errorf("querying run %s: %w", runID, err)
	}

	entries, err := db.Entries(runID)
	if err != nil {
		return 0, err
	}

	prev := genesis
	for i, e := range entries {
		if e.Seq != i {
			return i, &ChainError{RunID: runID, Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", i)}
		}
		if !e.Record.State.Valid() {
			return i, &ChainError{RunID: runID, Seq: e.Seq, Reason: fmt.Sprintf("unknown state %q", e.Record.State)}
		}
		if e.PrevHash != prev {
			return i, &ChainError{RunID: runID, Seq: e.Seq, Reason: "prev_hash mismatch"}
		}
		sum, err := CalculateEntryHash(e.PrevHash, e.payload())
		if err != nil {
			return i, fmt.Errorf("hashing seq %d: %w", e.Seq, err)
		}
		if sum != e.Hash {
			return i, &ChainError{RunID: runID, Seq: e.Seq, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return len(entries), nil
}
