package artifact

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/policy"
	"github.com/msageha/goalrun/internal/runtime"
	atomicyaml "github.com/msageha/goalrun/internal/yaml"
)

// Snapshot captures rt's goal, grants, checkpoints and summary.
func Snapshot(rt *runtime.Runtime, runID string, ticks int) *model.GoalState {
	return &model.GoalState{
		RunID:       runID,
		Goal:        *rt.Goal(),
		Grants:      rt.Policy().Grants(),
		Checkpoints: rt.Checkpoints(),
		Summary:     rt.Summary(),
		Ticks:       ticks,
		LogLength:   rt.LogLen(),
	}
}

// LoadState reads <dir>/state.yaml. A snapshot that fails to parse or
// validate is quarantined and restored from state.yaml.bak; when no usable
// backup exists the error is returned and the caller must start over from
// its config.
func LoadState(dir string) (*model.GoalState, error) {
	path := filepath.Join(dir, StateFile)
	st, err := readState(path)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoState, dir)
	}

	log.Printf("state file %s is unusable: %v", path, err)
	if rerr := atomicyaml.RecoverCorruptedFile(dir, path, atomicyaml.FileTypeGoalState); rerr != nil {
		return nil, fmt.Errorf("recover %s: %w (original error: %v)", StateFile, rerr, err)
	}
	st, err = readState(path)
	if err != nil {
		return nil, fmt.Errorf("read restored %s: %w", StateFile, err)
	}
	return st, nil
}

func readState(path string) (*model.GoalState, error) {
	if err := atomicyaml.ValidateSchemaHeader(path, atomicyaml.FileTypeGoalState); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", StateFile, err)
	}
	var st model.GoalState
	if err := atomicyaml.ReadInto(path, &st); err != nil {
		return nil, err
	}
	if err := st.Goal.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", StateFile, err)
	}
	return &st, nil
}

// RestoreGoal rebuilds the goal and policy a snapshot was taken from.
func RestoreGoal(st *model.GoalState) (*model.Goal, *policy.Policy) {
	g := st.Goal
	g.SuccessCriteria = append([]string(nil), st.Goal.SuccessCriteria...)
	g.Tasks = make([]*model.Task, len(st.Goal.Tasks))
	for i, t := range st.Goal.Tasks {
		cp := *t
		cp.Requires = append([]string(nil), t.Requires...)
		g.Tasks[i] = &cp
	}
	return &g, policy.New(st.Grants...)
}
