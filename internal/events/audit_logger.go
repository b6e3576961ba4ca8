// Package events writes the append-only JSONL audit trail of a goal run.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/goalrun/internal/model"
)

const (
	// Default maximum log file size (100MB)
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

const (
	EventRunStarted     = "run_started"
	EventTaskTransition = "task_transition"
	EventGrantApplied   = "grant_applied"
	EventRunSettled     = "run_settled"
)

// LogEntry is a single audit log line.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	RunID     string         `json:"run_id,omitempty"`
	GoalID    string         `json:"goal_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	State     model.State    `json:"state,omitempty"`
	Note      string         `json:"note,omitempty"`
	Attempts  int            `json:"attempts"`
	Details   map[string]any `json:"details,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
}

// Transition converts a task_transition entry back into a record.
func (e LogEntry) Transition() model.TransitionRecord {
	return model.TransitionRecord{
		Timestamp: e.Timestamp,
		TaskID:    e.TaskID,
		State:     e.State,
		Note:      e.Note,
		Attempts:  e.Attempts,
	}
}

// AuditLogger appends entries to a JSONL file and rotates it into archive/
// when it grows past maxSize.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	enableChecksum  bool
	rotationCounter int
	now             func() time.Time
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	logger := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := logger.openLogFile(); err != nil {
		return nil, err
	}

	return logger, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Log writes a run-level event stamped with the current time.
func (l *AuditLogger) Log(eventType, runID, goalID string, details map[string]any) error {
	return l.WriteEntry(&LogEntry{
		Timestamp: l.now(),
		EventType: eventType,
		RunID:     runID,
		GoalID:    goalID,
		Details:   details,
	})
}

// LogTransitions writes one task_transition entry per record, keeping the
// record's own timestamp.
func (l *AuditLogger) LogTransitions(runID, goalID string, records []model.TransitionRecord) error {
	for _, rec := range records {
		entry := LogEntry{
			Timestamp: rec.Timestamp.UTC(),
			EventType: EventTaskTransition,
			RunID:     runID,
			GoalID:    goalID,
			TaskID:    rec.TaskID,
			State:     rec.State,
			Note:      rec.Note,
			Attempts:  rec.Attempts,
		}
		if err := l.WriteEntry(&entry); err != nil {
			return fmt.Errorf("task %s %s: %w", rec.TaskID, rec.State, err)
		}
	}
	return nil
}

func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit logger closed")
	}
	if l.enableChecksum {
		entry.Checksum = calculateChecksum(entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close current log file: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	l.rotationCounter++
	baseName := filepath.Base(l.logPath)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		baseName[:len(baseName)-len(filepath.Ext(baseName))],
		timestamp,
		l.rotationCounter,
		LogFileExtension)

	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("failed to archive log file: %w", err)
	}

	if err := l.openLogFile(); err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	return nil
}

func calculateChecksum(entry *LogEntry) string {
	entryCopy := *entry
	entryCopy.Checksum = ""

	data, err := json.Marshal(entryCopy)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", simpleHash(data))
}

// simpleHash is djb2; it detects accidental edits, not tampering. The
// ledger's hash chain covers tampering.
func simpleHash(data []byte) uint64 {
	var hash uint64 = 5381
	for _, b := range data {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

// VerifyLogIntegrity counts total and valid entries in a log file. Entries
// without a checksum count as valid; malformed lines are skipped.
func VerifyLogIntegrity(logPath string) (int, int, error) {
	entries, err := ReadEntries(logPath)
	if err != nil {
		return 0, 0, err
	}

	valid := 0
	for i := range entries {
		if entries[i].Checksum == "" || entries[i].Checksum == calculateChecksum(&entries[i]) {
			valid++
		}
	}
	return len(entries), valid, nil
}

// ReadEntries decodes every well-formed line of a JSONL log.
func ReadEntries(logPath string) ([]LogEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return entries, nil
}

// ReadTransitions returns the task transitions logged for runID, in order.
// An empty runID matches every run.
func ReadTransitions(logPath, runID string) ([]model.TransitionRecord, error) {
	entries, err := ReadEntries(logPath)
	if err != nil {
		return nil, err
	}
	var out []model.TransitionRecord
	for _, e := range entries {
		if e.EventType != EventTaskTransition {
			continue
		}
		if runID != "" && e.RunID != runID {
			continue
		}
		out = append(out, e.Transition())
	}
	return out, nil
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return err
		}
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *AuditLogger) GetCurrentLogPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

func (l *AuditLogger) GetCurrentSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}
