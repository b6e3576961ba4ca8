package model

import (
	"fmt"
	"time"
)

// Task is a single unit of work inside a goal.
type Task struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Requires []string `yaml:"requires" json:"requires"`
	State    State    `yaml:"state" json:"state"`
	Note     string   `yaml:"note" json:"note"`
	Attempts int      `yaml:"attempts" json:"attempts"`
}

// NewTask returns a planned task with no attempts.
func NewTask(id, title string, requires ...string) *Task {
	reqs := make([]string, len(requires))
	copy(reqs, requires)
	return &Task{
		ID:       id,
		Title:    title,
		Requires: reqs,
		State:    StatePlanned,
	}
}

// Goal is an ordered set of tasks with a deadline. Task order is the tick
// processing priority.
type Goal struct {
	ID              string    `yaml:"id" json:"id"`
	Objective       string    `yaml:"objective" json:"objective"`
	Deadline        time.Time `yaml:"deadline" json:"deadline"`
	SuccessCriteria []string  `yaml:"success_criteria" json:"success_criteria"`
	Tasks           []*Task   `yaml:"tasks" json:"tasks"`
}

// Validate checks task identity and state. Goals built from config and goals
// restored from a snapshot both pass through here.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	seen := make(map[string]bool, len(g.Tasks))
	for i, t := range g.Tasks {
		if t == nil {
			return fmt.Errorf("tasks[%d]: nil task", i)
		}
		if t.ID == "" {
			return fmt.Errorf("tasks[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tasks[%d]: duplicate task id %q", i, t.ID)
		}
		seen[t.ID] = true
		if !t.State.Valid() {
			return fmt.Errorf("task %s: %w %q", t.ID, ErrUnknownState, t.State)
		}
		if t.Attempts < 0 {
			return fmt.Errorf("task %s: attempts must be non-negative, got %d", t.ID, t.Attempts)
		}
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (g *Goal) Task(id string) *Task {
	for _, t := range g.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Settled reports whether every task has reached a terminal state.
func (g *Goal) Settled() bool {
	for _, t := range g.Tasks {
		if !IsTerminal(t.State) {
			return false
		}
	}
	return true
}
