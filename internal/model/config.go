// Package model defines the goal, task and configuration types shared by the goal runtime.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTickIntervalMs      = 1000
	DefaultMaxApprovalAttempts = 3
	DefaultOutputDir           = ".goalrun"
	DefaultDeadlineIn          = "6h"
)

type Config struct {
	Goal    GoalConfig    `yaml:"goal"`
	Policy  PolicyConfig  `yaml:"policy"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`

	// baseDir is the directory of the loaded config file; relative paths resolve against it.
	baseDir string
}

type GoalConfig struct {
	ID              string       `yaml:"id"`
	Objective       string       `yaml:"objective"`
	Deadline        string       `yaml:"deadline"`    // RFC3339, takes precedence over deadline_in
	DeadlineIn      string       `yaml:"deadline_in"` // Go duration relative to load time, e.g. "6h"
	SuccessCriteria []string     `yaml:"success_criteria"`
	Tasks           []TaskConfig `yaml:"tasks"`
}

type TaskConfig struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Requires []string `yaml:"requires"`
}

type PolicyConfig struct {
	Grants     []string `yaml:"grants"`
	GrantsFile string   `yaml:"grants_file"`
}

type RuntimeConfig struct {
	TickIntervalMs      int `yaml:"tick_interval_ms"`
	MaxTicks            int `yaml:"max_ticks"` // 0 = until every task is terminal
	MaxApprovalAttempts int `yaml:"max_approval_attempts"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Ledger      bool   `yaml:"ledger"`
	MaxLogBytes int64  `yaml:"max_log_bytes"`
	Checksum    bool   `yaml:"checksum"`
	Notify      bool   `yaml:"notify"` // desktop alerts, macOS only
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads and validates a goal config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.baseDir = abs
	return cfg, nil
}

// ParseConfig decodes YAML, applies defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Runtime.TickIntervalMs <= 0 {
		c.Runtime.TickIntervalMs = DefaultTickIntervalMs
	}
	if c.Runtime.MaxApprovalAttempts <= 0 {
		c.Runtime.MaxApprovalAttempts = DefaultMaxApprovalAttempts
	}
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}
	if c.Goal.Deadline == "" && c.Goal.DeadlineIn == "" {
		c.Goal.DeadlineIn = DefaultDeadlineIn
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Goal.Objective == "" {
		return fmt.Errorf("goal.objective is required")
	}
	if len(c.Goal.Tasks) == 0 {
		return fmt.Errorf("goal.tasks must not be empty")
	}
	if c.Goal.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, c.Goal.Deadline); err != nil {
			return fmt.Errorf("goal.deadline: %w", err)
		}
	} else if _, err := time.ParseDuration(c.Goal.DeadlineIn); err != nil {
		return fmt.Errorf("goal.deadline_in: %w", err)
	}
	seen := make(map[string]bool, len(c.Goal.Tasks))
	for i, t := range c.Goal.Tasks {
		if t.ID == "" {
			continue
		}
		if seen[t.ID] {
			return fmt.Errorf("goal.tasks[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
	}
	if c.Runtime.MaxTicks < 0 {
		return fmt.Errorf("runtime.max_ticks must be >= 0, got %d", c.Runtime.MaxTicks)
	}
	return nil
}

// BuildGoal constructs a fresh goal with every task planned. Missing goal and
// task IDs are generated.
func (c *Config) BuildGoal(now time.Time) (*Goal, error) {
	deadline, err := c.deadline(now)
	if err != nil {
		return nil, err
	}

	goalID := c.Goal.ID
	if goalID == "" {
		if goalID, err = GenerateID(IDTypeGoal); err != nil {
			return nil, err
		}
	}

	g := &Goal{
		ID:              goalID,
		Objective:       c.Goal.Objective,
		Deadline:        deadline,
		SuccessCriteria: append([]string(nil), c.Goal.SuccessCriteria...),
		Tasks:           make([]*Task, 0, len(c.Goal.Tasks)),
	}
	for _, tc := range c.Goal.Tasks {
		id := tc.ID
		if id == "" {
			if id, err = GenerateID(IDTypeTask); err != nil {
				return nil, err
			}
		}
		g.Tasks = append(g.Tasks, NewTask(id, tc.Title, tc.Requires...))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (c *Config) deadline(now time.Time) (time.Time, error) {
	if c.Goal.Deadline != "" {
		d, err := time.Parse(time.RFC3339, c.Goal.Deadline)
		if err != nil {
			return time.Time{}, fmt.Errorf("goal.deadline: %w", err)
		}
		return d, nil
	}
	in, err := time.ParseDuration(c.Goal.DeadlineIn)
	if err != nil {
		return time.Time{}, fmt.Errorf("goal.deadline_in: %w", err)
	}
	return now.Add(in), nil
}

// ResolvePath makes p absolute relative to the config file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Runtime.TickIntervalMs) * time.Millisecond
}
