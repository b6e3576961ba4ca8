package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
goal:
  id: goal-001
  objective: Analyze runtime and deliver prototype
  deadline: 2026-10-19T18:00:00Z
  success_criteria: [analysis report, prototype code]
  tasks:
    - {id: T1, title: collect docs, requires: []}
    - {id: T2, title: draft proposal}
    - {id: T3, title: push to repo, requires: ["github:push"]}
policy:
  grants: [fs:read]
  grants_file: grants.yaml
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultTickIntervalMs, cfg.Runtime.TickIntervalMs)
	assert.Equal(t, DefaultMaxApprovalAttempts, cfg.Runtime.MaxApprovalAttempts)
	assert.Equal(t, DefaultOutputDir, cfg.Output.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.TickInterval())
}

func TestConfig_BuildGoal(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	g, err := cfg.BuildGoal(time.Now())
	require.NoError(t, err)

	assert.Equal(t, "goal-001", g.ID)
	assert.Equal(t, time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC), g.Deadline.UTC())
	require.Len(t, g.Tasks, 3)
	for _, task := range g.Tasks {
		assert.Equal(t, StatePlanned, task.State)
		assert.Zero(t, task.Attempts)
	}
	assert.Equal(t, []string{"github:push"}, g.Task("T3").Requires)
	assert.Empty(t, g.Task("T2").Requires)
}

func TestConfig_BuildGoal_DeadlineInAndGeneratedIDs(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
goal:
  objective: quick goal
  deadline_in: 90m
  tasks:
    - {title: untitled}
`))
	require.NoError(t, err)

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	g, err := cfg.BuildGoal(now)
	require.NoError(t, err)

	assert.Equal(t, now.Add(90*time.Minute), g.Deadline)
	assert.True(t, ValidateID(g.ID), "generated goal id %q", g.ID)
	assert.True(t, ValidateID(g.Tasks[0].ID), "generated task id %q", g.Tasks[0].ID)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing objective", "goal:\n  tasks: [{id: T1}]\n"},
		{"no tasks", "goal:\n  objective: x\n"},
		{"bad deadline", "goal:\n  objective: x\n  deadline: tomorrow\n  tasks: [{id: T1}]\n"},
		{"bad deadline_in", "goal:\n  objective: x\n  deadline_in: soon\n  tasks: [{id: T1}]\n"},
		{"duplicate task", "goal:\n  objective: x\n  tasks: [{id: T1}, {id: T1}]\n"},
		{"negative max ticks", "goal:\n  objective: x\n  tasks: [{id: T1}]\nruntime:\n  max_ticks: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ResolvePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "grants.yaml"), cfg.ResolvePath(cfg.Policy.GrantsFile))
	assert.Equal(t, "/abs/out", cfg.ResolvePath("/abs/out"))
	assert.Equal(t, "", cfg.ResolvePath(""))
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
