package report

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/msageha/goalrun/internal/model"
)

// MarkdownData is everything report.md shows.
type MarkdownData struct {
	RunID       string
	Goal        *model.Goal
	Summary     model.Summary
	Grants      []string
	Checkpoints []model.Checkpoint
	Recent      []model.TransitionRecord
	Ticks       int
	GeneratedAt time.Time
}

const maxRecent = 20

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"join":     strings.Join,
	"deadline": func(t time.Time) string { return t.Format(DeadlineLayout) },
	"cell":     cell,
}).Parse(`# Goal Report: {{ .Goal.ID }}

> Generated at {{ .GeneratedAt.Format "2006-01-02 15:04:05 MST" }}{{ if .RunID }} for run {{ .RunID }}{{ end }}. Do not edit manually.

**Objective:** {{ .Goal.Objective }}

**Deadline:** {{ deadline .Goal.Deadline }}

{{ if .Goal.SuccessCriteria -}}
## Success Criteria

{{ range .Goal.SuccessCriteria -}}
- {{ . }}
{{ end }}
{{ end -}}
## Summary

| Metric | Value |
|--------|-------|
| Done | {{ .Summary.Done }} |
| Pending | {{ .Summary.Pending }} |
| Blocked | {{ .Summary.Blocked }} |
| Ticks | {{ .Ticks }} |
| Grants | {{ if .Grants }}{{ join .Grants ", " }}{{ else }}-{{ end }} |

## Tasks

| ID | Title | State | Attempts | Requires | Note |
|----|-------|-------|----------|----------|------|
{{ range .Goal.Tasks -}}
| {{ .ID }} | {{ cell .Title }} | {{ .State }} | {{ .Attempts }} | {{ if .Requires }}{{ join .Requires ", " }}{{ else }}-{{ end }} | {{ cell .Note }} |
{{ end }}
{{ if .Summary.BlockedTasks -}}
## Blocked

{{ range .Summary.BlockedTasks -}}
- {{ .ID }} {{ .Title }}: {{ .Note }}
{{ end }}
{{ end -}}
## Checkpoints

| Label | At |
|-------|----|
{{ range .Checkpoints -}}
| {{ .Label }} | {{ deadline .At }} |
{{ end }}
## Recent Transitions (Last {{ len .Recent }})

{{ if .Recent -}}
| Time | Task | State | Attempts | Note |
|------|------|-------|----------|------|
{{ range .Recent -}}
| {{ .Timestamp.Format "15:04:05" }} | {{ .TaskID }} | {{ .State }} | {{ .Attempts }} | {{ cell .Note }} |
{{ end -}}
{{ else -}}
_No transitions yet._
{{ end -}}
`))

// Markdown renders report.md. Only the most recent transitions are listed.
func Markdown(data MarkdownData) (string, error) {
	if data.Goal == nil {
		return "", fmt.Errorf("report: goal is required")
	}
	if len(data.Recent) > maxRecent {
		data.Recent = data.Recent[len(data.Recent)-maxRecent:]
	}

	var out strings.Builder
	if err := markdownTmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return out.String(), nil
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
