// Package artifact persists a goal run under its output directory:
// state.yaml (snapshot), log.jsonl (transition log) and report.md.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/goalrun/internal/events"
	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/report"
	atomicyaml "github.com/msageha/goalrun/internal/yaml"
)

const (
	StateFile  = "state.yaml"
	LogFile    = "log.jsonl"
	ReportFile = "report.md"
	LedgerFile = "ledger/goalrun.db"
	LockFile   = "locks/run.lock"
)

// ErrNoState means the output directory holds no snapshot yet.
var ErrNoState = errors.New("no saved goal state")

// Options tune the JSONL transition log.
type Options struct {
	MaxLogBytes int64
	Checksum    bool
}

// Store writes the artifacts of one output directory.
type Store struct {
	dir   string
	audit *events.AuditLogger
	now   func() time.Time
}

func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	maxBytes := opts.MaxLogBytes
	if maxBytes <= 0 {
		maxBytes = events.DefaultMaxLogSize
	}
	audit, err := events.NewAuditLogger(filepath.Join(dir, LogFile), maxBytes)
	if err != nil {
		return nil, fmt.Errorf("open transition log: %w", err)
	}
	audit.EnableChecksum(opts.Checksum)

	return &Store{
		dir:   dir,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Dir() string        { return s.dir }
func (s *Store) StatePath() string  { return filepath.Join(s.dir, StateFile) }
func (s *Store) LogPath() string    { return filepath.Join(s.dir, LogFile) }
func (s *Store) ReportPath() string { return filepath.Join(s.dir, ReportFile) }

// LedgerPath returns the ledger database location for dir.
func LedgerPath(dir string) string { return filepath.Join(dir, LedgerFile) }

// LockPath returns the run lock location for dir.
func LockPath(dir string) string { return filepath.Join(dir, LockFile) }

// SaveState writes st atomically, keeping the previous snapshot as .bak.
func (s *Store) SaveState(st *model.GoalState) error {
	now := s.now().Format(time.RFC3339)
	st.SchemaVersion = atomicyaml.CurrentSchemaVersion
	st.FileType = atomicyaml.FileTypeGoalState
	if st.CreatedAt == "" {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	if err := atomicyaml.AtomicWrite(s.StatePath(), st); err != nil {
		return fmt.Errorf("write %s: %w", StateFile, err)
	}
	return nil
}

// AppendLog appends transition records to log.jsonl.
func (s *Store) AppendLog(runID, goalID string, records []model.TransitionRecord) error {
	if err := s.audit.LogTransitions(runID, goalID, records); err != nil {
		return fmt.Errorf("append %s: %w", LogFile, err)
	}
	return nil
}

// LogEvent writes a non-transition event (run start, grant, settle) to log.jsonl.
func (s *Store) LogEvent(eventType, runID, goalID string, details map[string]any) error {
	if err := s.audit.Log(eventType, runID, goalID, details); err != nil {
		return fmt.Errorf("append %s: %w", LogFile, err)
	}
	return nil
}

// WriteReport renders and replaces report.md.
func (s *Store) WriteReport(data report.MarkdownData) error {
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = s.now()
	}
	md, err := report.Markdown(data)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.ReportPath(), []byte(md)); err != nil {
		return fmt.Errorf("write %s: %w", ReportFile, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.audit.Close()
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".goalrun-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(content); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
