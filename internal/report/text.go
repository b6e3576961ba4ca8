// Package report renders a goal's summary for terminals and as Markdown.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/goalrun/internal/model"
)

// DeadlineLayout prints deadlines to the minute.
const DeadlineLayout = "2006-01-02T15:04"

// Text returns the plain summary, one fact per line.
func Text(g *model.Goal, s model.Summary) string {
	return strings.Join(lines(g, s, plainStyles()), "\n")
}

// Styled returns the same lines as Text with terminal colors. lipgloss drops
// the colors when the output is not a terminal.
func Styled(g *model.Goal, s model.Summary) string {
	return strings.Join(lines(g, s, colorStyles()), "\n")
}

type renderFunc func(strs ...string) string

type styles struct {
	label   renderFunc
	done    renderFunc
	pending renderFunc
	blocked renderFunc
	muted   renderFunc
}

func plain(strs ...string) string { return strings.Join(strs, " ") }

func plainStyles() styles {
	return styles{label: plain, done: plain, pending: plain, blocked: plain, muted: plain}
}

func colorStyles() styles {
	return styles{
		label:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render,
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Render,
		pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C")).Render,
		blocked: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).Render,
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render,
	}
}

func lines(g *model.Goal, s model.Summary, st styles) []string {
	out := []string{
		st.label("Goal:") + " " + g.Objective,
		st.label("Deadline:") + " " + g.Deadline.Format(DeadlineLayout),
		st.done(fmt.Sprintf("✅ done: %d", s.Done)),
		st.pending(fmt.Sprintf("⏳ pending: %d", s.Pending)),
		st.blocked(fmt.Sprintf("🚫 blocked: %d", s.Blocked)),
	}
	if len(s.BlockedTasks) > 0 {
		out = append(out, st.label("Blocked details:"))
		for _, b := range s.BlockedTasks {
			out = append(out, fmt.Sprintf("- %s %s: %s", b.ID, b.Title, st.muted(b.Note)))
		}
	}
	return out
}

// Checkpoints renders the checkpoint schedule, marking the next one due.
func Checkpoints(cps []model.Checkpoint, next model.Checkpoint, hasNext bool) string {
	var b strings.Builder
	for _, cp := range cps {
		marker := " "
		if hasNext && cp.Label == next.Label {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-8s %s\n", marker, cp.Label, cp.At.Format(DeadlineLayout))
	}
	return b.String()
}
