package model

import "time"

// TransitionRecord is one entry of the runtime's append-only transition log.
type TransitionRecord struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	TaskID    string    `yaml:"task_id" json:"task_id"`
	State     State     `yaml:"state" json:"state"`
	Note      string    `yaml:"note" json:"note"`
	Attempts  int       `yaml:"attempts" json:"attempts"`
}

// Summary is a read-only partition of a goal's tasks by state group.
type Summary struct {
	Done         int           `yaml:"done" json:"done"`
	Pending      int           `yaml:"pending" json:"pending"`
	Blocked      int           `yaml:"blocked" json:"blocked"`
	BlockedTasks []BlockedTask `yaml:"blocked_tasks" json:"blocked_tasks"`
}

type BlockedTask struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	State State  `yaml:"state" json:"state"`
	Note  string `yaml:"note" json:"note"`
}

// GoalState is the persisted snapshot of a goal run.
type GoalState struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	RunID         string       `yaml:"run_id"`
	Goal          Goal         `yaml:"goal"`
	Grants        []string     `yaml:"grants"`
	Checkpoints   []Checkpoint `yaml:"checkpoints"`
	Summary       Summary      `yaml:"summary"`
	Ticks         int          `yaml:"ticks"`
	LogLength     int          `yaml:"log_length"`
	CreatedAt     string       `yaml:"created_at"`
	UpdatedAt     string       `yaml:"updated_at"`
}
