// Package runtime advances a goal's tasks one tick at a time under a policy
// and keeps the append-only transition log.
//
// A Runtime is not safe for concurrent use. Exactly one goroutine may call
// Tick, and readers must only inspect the goal or log between ticks.
package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/policy"
)

const (
	NoteReady     = "ready"
	NoteStarted   = "started"
	NoteVerifying = "verifying outputs"
	NoteCompleted = "completed"

	missingPrefix = "Missing permissions: "
)

// Runtime owns the advancement of one goal. Goal and policy are held by
// reference; task mutations are visible through the caller's goal.
type Runtime struct {
	goal   *model.Goal
	policy *policy.Policy
	log    []model.TransitionRecord

	maxApprovalAttempts int
	now                 func() time.Time
}

type Option func(*Runtime)

// WithClock sets the timestamp source for transition records.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithMaxApprovalAttempts sets how many unresolved approval checks block a
// task. Values below 1 are ignored.
func WithMaxApprovalAttempts(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxApprovalAttempts = n
		}
	}
}

// WithLog seeds the transition log, used when resuming a persisted run.
func WithLog(records []model.TransitionRecord) Option {
	return func(r *Runtime) {
		r.log = append([]model.TransitionRecord(nil), records...)
	}
}

func New(goal *model.Goal, pol *policy.Policy, opts ...Option) *Runtime {
	r := &Runtime{
		goal:                goal,
		policy:              pol,
		maxApprovalAttempts: model.DefaultMaxApprovalAttempts,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Goal() *model.Goal      { return r.goal }
func (r *Runtime) Policy() *policy.Policy { return r.policy }

// Tick advances the first non-terminal task in goal order by one step and
// returns the number of records appended. A goal with no non-terminal task
// is left untouched and Tick returns 0.
func (r *Runtime) Tick() int {
	before := len(r.log)
	for _, t := range r.goal.Tasks {
		if model.IsTerminal(t.State) {
			continue
		}
		r.advance(t)
		break
	}
	return len(r.log) - before
}

func (r *Runtime) advance(t *model.Task) {
	if t.State == model.StatePlanned {
		r.record(t, model.StateReady, NoteReady)
	}

	switch t.State {
	case model.StateReady, model.StateNeedsApproval:
		r.checkApproval(t)
	default:
		// Running or verifying left over from an interrupted run: echo
		// the current position without moving it.
		r.record(t, t.State, t.Note)
	}
}

func (r *Runtime) checkApproval(t *model.Task) {
	missing := r.policy.Missing(t.Requires)
	t.Attempts++

	if len(missing) > 0 {
		r.record(t, model.StateNeedsApproval, missingPrefix+strings.Join(missing, ", "))
		if t.Attempts >= r.maxApprovalAttempts {
			r.record(t, model.StateBlocked, BlockedNote(r.maxApprovalAttempts))
		}
		return
	}

	// Execution is simulated and cannot fail.
	r.record(t, model.StateRunning, NoteStarted)
	r.record(t, model.StateVerifying, NoteVerifying)
	r.record(t, model.StateDone, NoteCompleted)
}

// record is the only place task state changes.
func (r *Runtime) record(t *model.Task, state model.State, note string) {
	t.State = state
	t.Note = note
	r.log = append(r.log, model.TransitionRecord{
		Timestamp: r.now(),
		TaskID:    t.ID,
		State:     state,
		Note:      note,
		Attempts:  t.Attempts,
	})
}

// BlockedNote is the note recorded when approval retries are exhausted.
func BlockedNote(attempts int) string {
	return fmt.Sprintf("approval not resolved after %d retries", attempts)
}

// Log returns a copy of the transition log.
func (r *Runtime) Log() []model.TransitionRecord {
	return append([]model.TransitionRecord(nil), r.log...)
}

// LogSince returns a copy of the records appended after the first n.
func (r *Runtime) LogSince(n int) []model.TransitionRecord {
	if n < 0 {
		n = 0
	}
	if n >= len(r.log) {
		return nil
	}
	return append([]model.TransitionRecord(nil), r.log[n:]...)
}

func (r *Runtime) LogLen() int {
	return len(r.log)
}

// Settled reports whether no task can advance any further.
func (r *Runtime) Settled() bool {
	return r.goal.Settled()
}

func (r *Runtime) Checkpoints() []model.Checkpoint {
	return model.Checkpoints(r.goal.Deadline)
}
