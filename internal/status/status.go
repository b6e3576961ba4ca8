// Package status reports the saved state of a goal run.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/msageha/goalrun/internal/artifact"
	"github.com/msageha/goalrun/internal/lock"
	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/report"
)

type RunStatus struct {
	Driver         DriverStatus      `json:"driver"`
	GoalID         string            `json:"goal_id"`
	Objective      string            `json:"objective"`
	Deadline       time.Time         `json:"deadline"`
	RunID          string            `json:"run_id"`
	Ticks          int               `json:"ticks"`
	Summary        model.Summary     `json:"summary"`
	Tasks          []TaskStatus      `json:"tasks"`
	Grants         []string          `json:"grants"`
	NextCheckpoint *model.Checkpoint `json:"next_checkpoint,omitempty"`
	UpdatedAt      string            `json:"updated_at"`
}

type DriverStatus struct {
	Running bool `json:"running"`
	Pid     int  `json:"pid,omitempty"`
}

type TaskStatus struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	State    model.State `json:"state"`
	Attempts int         `json:"attempts"`
	Note     string      `json:"note"`
}

// Collect reads outDir's snapshot and lock.
func Collect(outDir string, now time.Time) (*RunStatus, error) {
	st, err := artifact.LoadState(outDir)
	if err != nil {
		return nil, err
	}

	rs := &RunStatus{
		GoalID:    st.Goal.ID,
		Objective: st.Goal.Objective,
		Deadline:  st.Goal.Deadline,
		RunID:     st.RunID,
		Ticks:     st.Ticks,
		Summary:   st.Summary,
		Grants:    st.Grants,
		UpdatedAt: st.UpdatedAt,
	}
	if pid, ok := lock.Holder(artifact.LockPath(outDir)); ok {
		rs.Driver = DriverStatus{Running: true, Pid: pid}
	}
	for _, t := range st.Goal.Tasks {
		rs.Tasks = append(rs.Tasks, TaskStatus{
			ID:       t.ID,
			Title:    t.Title,
			State:    t.State,
			Attempts: t.Attempts,
			Note:     t.Note,
		})
	}
	if cp, ok := model.NextCheckpoint(st.Goal.Deadline, now); ok {
		rs.NextCheckpoint = &cp
	}
	return rs, nil
}

// Run prints the status of outDir to w.
func Run(w io.Writer, outDir string, jsonOutput bool) error {
	rs, err := Collect(outDir, time.Now())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	}
	return printStatus(w, rs)
}

func printStatus(w io.Writer, rs *RunStatus) error {
	goal := &model.Goal{ID: rs.GoalID, Objective: rs.Objective, Deadline: rs.Deadline}
	fmt.Fprintln(w, report.Styled(goal, rs.Summary))
	fmt.Fprintln(w)

	driver := "stopped"
	if rs.Driver.Running {
		driver = "running (pid " + strconv.Itoa(rs.Driver.Pid) + ")"
	}
	fmt.Fprintf(w, "Driver: %s\n", driver)
	fmt.Fprintf(w, "Run: %s  ticks: %d  updated: %s\n", rs.RunID, rs.Ticks, rs.UpdatedAt)
	if rs.NextCheckpoint != nil {
		fmt.Fprintf(w, "Next checkpoint: %s at %s\n", rs.NextCheckpoint.Label, rs.NextCheckpoint.At.Format(report.DeadlineLayout))
	} else {
		fmt.Fprintln(w, "Next checkpoint: deadline passed")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tTITLE\tNOTE")
	for _, t := range rs.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.State, t.Attempts, t.Title, t.Note)
	}
	return tw.Flush()
}
