package model

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a task within a goal run.
type State string

const (
	StatePlanned       State = "PLANNED"
	StateReady         State = "READY"
	StateNeedsApproval State = "NEEDS_APPROVAL"
	StateRunning       State = "RUNNING"
	StateVerifying     State = "VERIFYING"
	StateDone          State = "DONE"
	StateBlocked       State = "BLOCKED"
	StateAborted       State = "ABORTED"
)

// StateGroup is the reporting bucket a state belongs to.
type StateGroup string

const (
	GroupDone    StateGroup = "done"
	GroupPending StateGroup = "pending"
	GroupBlocked StateGroup = "blocked"
)

var (
	ErrUnknownState      = errors.New("unknown state")
	ErrInvalidTransition = errors.New("invalid transition")
)

var terminalStates = map[State]bool{
	StateDone:    true,
	StateBlocked: true,
	StateAborted: true,
}

// Task state transitions: planned → ready → {needs_approval | running → verifying → done}
// needs_approval re-enters itself on every unresolved approval check until blocked.
// Running and verifying may echo themselves when a snapshot is resumed mid-execution.
var validTaskTransitions = map[State]map[State]bool{
	StatePlanned: {
		StateReady:   true,
		StateAborted: true,
	},
	StateReady: {
		StateNeedsApproval: true,
		StateRunning:       true,
		StateAborted:       true,
	},
	StateNeedsApproval: {
		StateNeedsApproval: true,
		StateRunning:       true,
		StateBlocked:       true,
		StateAborted:       true,
	},
	StateRunning: {
		StateRunning:   true,
		StateVerifying: true,
		StateAborted:   true,
	},
	StateVerifying: {
		StateVerifying: true,
		StateDone:      true,
		StateAborted:   true,
	},
}

// ParseState converts a wire value into a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownState, s)
	}
	return st, nil
}

func (s State) Valid() bool {
	switch s {
	case StatePlanned, StateReady, StateNeedsApproval, StateRunning,
		StateVerifying, StateDone, StateBlocked, StateAborted:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// UnmarshalText rejects values outside the closed set so corrupt snapshots
// fail at load time instead of stalling the runtime.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func IsTerminal(s State) bool {
	return terminalStates[s]
}

// Group returns the reporting bucket for s. Unknown states are reported as
// blocked so they surface in the blocked details.
func Group(s State) StateGroup {
	switch s {
	case StateDone:
		return GroupDone
	case StatePlanned, StateReady, StateRunning, StateVerifying:
		return GroupPending
	case StateNeedsApproval, StateBlocked, StateAborted:
		return GroupBlocked
	default:
		return GroupBlocked
	}
}

func ValidateTransition(from, to State) error {
	if IsTerminal(from) {
		return fmt.Errorf("%w: cannot leave terminal state %q", ErrInvalidTransition, from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownState, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
	}
	return nil
}
