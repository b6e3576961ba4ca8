package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/goalrun/internal/events"
	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/policy"
	"github.com/msageha/goalrun/internal/report"
	"github.com/msageha/goalrun/internal/runtime"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newRuntime(grants ...string) *runtime.Runtime {
	g := &model.Goal{
		ID:        "goal-001",
		Objective: "Ship the prototype",
		Deadline:  time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC),
		Tasks: []*model.Task{
			model.NewTask("T1", "collect docs"),
			model.NewTask("T2", "push", "github:push"),
		},
	}
	return runtime.New(g, policy.New(grants...), runtime.WithClock(fixedClock()))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{Checksum: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadState(t *testing.T) {
	s := openStore(t)
	rt := newRuntime("fs:read")
	for i := 0; i < 3; i++ {
		rt.Tick()
	}

	st := Snapshot(rt, "run_1", 3)
	require.NoError(t, s.SaveState(st))
	assert.NotEmpty(t, st.CreatedAt)
	assert.Equal(t, st.CreatedAt, st.UpdatedAt)

	loaded, err := LoadState(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, "run_1", loaded.RunID)
	assert.Equal(t, 3, loaded.Ticks)
	assert.Equal(t, rt.LogLen(), loaded.LogLength)
	assert.Equal(t, []string{"fs:read"}, loaded.Grants)
	assert.Len(t, loaded.Checkpoints, 4)
	assert.True(t, rt.Goal().Deadline.Equal(loaded.Goal.Deadline))
	require.Len(t, loaded.Goal.Tasks, 2)
	assert.Equal(t, model.StateDone, loaded.Goal.Tasks[0].State)
	assert.Equal(t, "completed", loaded.Goal.Tasks[0].Note)
	assert.Equal(t, rt.Summary(), loaded.Summary)
}

func TestSaveState_KeepsCreatedAt(t *testing.T) {
	s := openStore(t)
	s.now = fixedClock()
	st := Snapshot(newRuntime(), "run_1", 0)
	require.NoError(t, s.SaveState(st))
	created := st.CreatedAt

	require.NoError(t, s.SaveState(st))
	assert.Equal(t, created, st.CreatedAt)
	assert.NotEqual(t, created, st.UpdatedAt)
}

func TestLoadState_Missing(t *testing.T) {
	_, err := LoadState(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoState))
}

func TestLoadState_RecoversFromBackup(t *testing.T) {
	s := openStore(t)
	rt := newRuntime()

	rt.Tick()
	require.NoError(t, s.SaveState(Snapshot(rt, "run_1", 1)))
	rt.Tick()
	require.NoError(t, s.SaveState(Snapshot(rt, "run_1", 2)))

	require.NoError(t, os.WriteFile(s.StatePath(), []byte("{{{ not yaml"), 0644))

	loaded, err := LoadState(s.Dir())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Ticks)

	entries, err := os.ReadDir(filepath.Join(s.Dir(), "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadState_UnknownStateQuarantined(t *testing.T) {
	dir := t.TempDir()
	content := `schema_version: 1
file_type: goal_state
goal:
  id: goal-001
  objective: x
  tasks:
    - id: T1
      state: APPROVED
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte(content), 0644))

	_, err := LoadState(dir)
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadState_WrongFileType(t *testing.T) {
	dir := t.TempDir()
	content := "schema_version: 1\nfile_type: grants\ngrants: []\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte(content), 0644))

	_, err := LoadState(dir)
	assert.Error(t, err)
}

func TestRestoreGoal(t *testing.T) {
	rt := newRuntime("github:push")
	rt.Tick()
	st := Snapshot(rt, "run_1", 1)

	g, pol := RestoreGoal(st)
	require.NoError(t, g.Validate())
	assert.Equal(t, rt.Goal().ID, g.ID)
	assert.True(t, pol.Has("github:push"))

	g.Tasks[0].State = model.StateAborted
	g.Tasks[1].Requires[0] = "changed"
	assert.NotEqual(t, model.StateAborted, st.Goal.Tasks[0].State)
	assert.Equal(t, "github:push", st.Goal.Tasks[1].Requires[0])
}

func TestAppendLogAndEvents(t *testing.T) {
	s := openStore(t)
	rt := newRuntime()
	rt.Tick()
	rt.Tick()

	require.NoError(t, s.LogEvent(events.EventRunStarted, "run_1", "goal-001", nil))
	require.NoError(t, s.AppendLog("run_1", "goal-001", rt.Log()))
	require.NoError(t, s.Close())

	got, err := events.ReadTransitions(s.LogPath(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, rt.Log(), got)

	total, valid, err := events.VerifyLogIntegrity(s.LogPath())
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Equal(t, total, valid)
}

func TestWriteReport(t *testing.T) {
	s := openStore(t)
	rt := newRuntime()
	rt.Tick()

	err := s.WriteReport(report.MarkdownData{
		RunID:       "run_1",
		Goal:        rt.Goal(),
		Summary:     rt.Summary(),
		Checkpoints: rt.Checkpoints(),
		Recent:      rt.Log(),
		Ticks:       1,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(s.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Goal Report: goal-001")
	assert.Contains(t, string(data), "| T1 | collect docs | DONE |")
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "ledger", "goalrun.db"), LedgerPath("out"))
	assert.Equal(t, filepath.Join("out", "locks", "run.lock"), LockPath("out"))
}
