package runtime

import "github.com/msageha/goalrun/internal/model"

// Summary partitions the goal's tasks into done, pending and blocked.
func (r *Runtime) Summary() model.Summary {
	return Summarize(r.goal)
}

// Summarize builds a summary from any goal, including one restored from a
// snapshot without a runtime.
func Summarize(g *model.Goal) model.Summary {
	var s model.Summary
	for _, t := range g.Tasks {
		switch model.Group(t.State) {
		case model.GroupDone:
			s.Done++
		case model.GroupPending:
			s.Pending++
		case model.GroupBlocked:
			s.Blocked++
			s.BlockedTasks = append(s.BlockedTasks, model.BlockedTask{
				ID:    t.ID,
				Title: t.Title,
				State: t.State,
				Note:  t.Note,
			})
		}
	}
	return s
}
