// Package report collects scenario outcomes and renders them once at the end
// of a run.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusDefect  Status = "DEFECT"
	StatusSkipped Status = "SKIPPED"
)

// Result is the record of one scenario.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Kind     string        `json:"kind,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r Result) Passed() bool { return r.Status == StatusPass }

type Report struct {
	Suite      string    `json:"suite"`
	ClientID   string    `json:"clientId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Result  `json:"results"`
	// Aborted is set when a fatal error stopped the run early.
	Aborted string `json:"aborted,omitempty"`
}

func New(suite, clientID string, startedAt time.Time) *Report {
	return &Report{Suite: suite, ClientID: clientID, StartedAt: startedAt}
}

func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Passed is true when at least one scenario ran and all of them passed.
func (r *Report) Passed() bool {
	if len(r.Results) == 0 || r.Aborted != "" {
		return false
	}
	return r.Count(StatusPass) == len(r.Results)
}

func (r *Report) ExitCode() int {
	if r.Passed() {
		return 0
	}
	return 1
}

// Render writes the summary table.
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s / %s", r.Suite, r.ClientID))
	t.AppendHeader(table.Row{"#", "Scenario", "Result", "Kind", "Detail", "Took"})
	for i, res := range r.Results {
		t.AppendRow(table.Row{i + 1, res.Name, res.Status, res.Kind, truncate(res.Detail, 150), res.Duration.Round(time.Millisecond)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d passed", r.Count(StatusPass), len(r.Results))})
	t.SetStyle(table.StyleLight)
	t.Render()

	switch {
	case r.Aborted != "":
		fmt.Fprintf(w, "\nRun aborted: %s\n", r.Aborted)
	case r.Passed():
		fmt.Fprintln(w, "\nAll scenarios passed!")
	default:
		fmt.Fprintln(w, "\nSome scenarios failed!")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
