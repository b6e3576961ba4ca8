package model

import (
	"encoding/json"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StatePlanned, false},
		{StateReady, false},
		{StateNeedsApproval, false},
		{StateRunning, false},
		{StateVerifying, false},
		{StateDone, true},
		{StateBlocked, true},
		{StateAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminal(tt.state); got != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestGroup(t *testing.T) {
	tests := []struct {
		state State
		group StateGroup
	}{
		{StateDone, GroupDone},
		{StatePlanned, GroupPending},
		{StateReady, GroupPending},
		{StateRunning, GroupPending},
		{StateVerifying, GroupPending},
		{StateNeedsApproval, GroupBlocked},
		{StateBlocked, GroupBlocked},
		{StateAborted, GroupBlocked},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := Group(tt.state); got != tt.group {
				t.Errorf("Group(%q) = %q, want %q", tt.state, got, tt.group)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	st, err := ParseState("NEEDS_APPROVAL")
	if err != nil {
		t.Fatalf("ParseState returned error: %v", err)
	}
	if st != StateNeedsApproval {
		t.Errorf("ParseState = %q, want %q", st, StateNeedsApproval)
	}

	if _, err := ParseState("needs_approval"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState for lowercase value, got %v", err)
	}
	if _, err := ParseState(""); !errors.Is(err, ErrUnknownState) {
		t.Errorf("expected ErrUnknownState for empty value, got %v", err)
	}
}

func TestState_UnmarshalRejectsUnknown(t *testing.T) {
	var task Task
	if err := yaml.Unmarshal([]byte("id: T1\nstate: PAUSED\n"), &task); err == nil {
		t.Error("expected yaml error for unknown state")
	}
	if err := json.Unmarshal([]byte(`{"id":"T1","state":"PAUSED"}`), &task); err == nil {
		t.Error("expected json error for unknown state")
	}

	if err := yaml.Unmarshal([]byte("id: T1\nstate: BLOCKED\n"), &task); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if task.State != StateBlocked {
		t.Errorf("state = %q, want %q", task.State, StateBlocked)
	}
}

func TestValidateTransition(t *testing.T) {
	valid := []struct {
		from, to State
	}{
		{StatePlanned, StateReady},
		{StateReady, StateNeedsApproval},
		{StateReady, StateRunning},
		{StateNeedsApproval, StateNeedsApproval},
		{StateNeedsApproval, StateBlocked},
		{StateNeedsApproval, StateRunning},
		{StateRunning, StateVerifying},
		{StateVerifying, StateDone},
		{StateRunning, StateRunning},
		{StatePlanned, StateAborted},
	}
	for _, tt := range valid {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			if err := ValidateTransition(tt.from, tt.to); err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
		})
	}

	invalid := []struct {
		from, to State
	}{
		{StateDone, StatePlanned},
		{StateBlocked, StateNeedsApproval},
		{StateAborted, StateReady},
		{StatePlanned, StateRunning},
		{StatePlanned, StateDone},
		{StateReady, StateBlocked},
		{StateRunning, StateDone},
	}
	for _, tt := range invalid {
		t.Run("invalid_"+string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %q → %q, got %v", tt.from, tt.to, err)
			}
		})
	}
}
