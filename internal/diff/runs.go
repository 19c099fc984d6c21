package diff

import (
	"fmt"
	"strings"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
)

// Change is a check whose verdict differs between two runs. An empty
// Before or After means the check was absent from that run.
type Change struct {
	Name   string
	Before check.Verdict
	After  check.Verdict
}

// Regression reports whether a previously passing check no longer passes.
func (c Change) Regression() bool {
	return c.Before == check.VerdictPass && c.After != check.VerdictPass && c.After != ""
}

// Fix reports whether a previously non-passing check now passes.
func (c Change) Fix() bool {
	return c.Before != check.VerdictPass && c.Before != "" && c.After == check.VerdictPass
}

// Comparison holds the differences between a baseline and a current run.
type Comparison struct {
	Baseline *report.RunReport
	Current  *report.RunReport
	Changes  []Change
	Lines    []Line
}

// Runs compares two reports check by check. Changes follow the current
// run's order, with checks only present in the baseline last.
func Runs(baseline, current *report.RunReport) *Comparison {
	before := make(map[string]check.Verdict, len(baseline.Results))
	for _, r := range baseline.Results {
		before[r.Name] = r.Verdict
	}

	cmp := &Comparison{Baseline: baseline, Current: current}
	seen := make(map[string]bool, len(current.Results))
	for _, r := range current.Results {
		seen[r.Name] = true
		if b := before[r.Name]; b != r.Verdict {
			cmp.Changes = append(cmp.Changes, Change{Name: r.Name, Before: b, After: r.Verdict})
		}
	}
	for _, r := range baseline.Results {
		if !seen[r.Name] {
			cmp.Changes = append(cmp.Changes, Change{Name: r.Name, Before: r.Verdict})
		}
	}

	cmp.Lines = Lines(verdictLines(baseline), verdictLines(current))
	return cmp
}

// Regressions returns the changes that turned a pass into something else.
func (c *Comparison) Regressions() []Change {
	var out []Change
	for _, ch := range c.Changes {
		if ch.Regression() {
			out = append(out, ch)
		}
	}
	return out
}

// String renders the verdict diff followed by a one-line tally.
func (c *Comparison) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (%s)\n", c.Baseline.ID, c.Baseline.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "+++ %s (%s)\n", c.Current.ID, c.Current.StartedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString(Format(c.Lines))

	fixes := 0
	for _, ch := range c.Changes {
		if ch.Fix() {
			fixes++
		}
	}
	fmt.Fprintf(&sb, "%d changed, %d regressed, %d fixed\n", len(c.Changes), len(c.Regressions()), fixes)
	return sb.String()
}

func verdictLines(r *report.RunReport) []string {
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = fmt.Sprintf("%s: %s", res.Name, res.Verdict)
	}
	return out
}
