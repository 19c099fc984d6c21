package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/y0f/apiprobe/internal/check"
)

type jsonCheck struct {
	Name      string        `json:"name"`
	Verdict   check.Verdict `json:"verdict"`
	Detail    string        `json:"detail"`
	LatencyMs int64         `json:"latency_ms"`
}

type jsonReport struct {
	ID         string         `json:"id,omitempty"`
	Target     string         `json:"target,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Checks     []jsonCheck    `json:"checks"`
	Summary    map[string]int `json:"summary"`
	Overall    Overall        `json:"overall"`
}

// MarshalJSON encodes the canonical projection of the report.
func (r *RunReport) MarshalJSON() ([]byte, error) {
	doc := jsonReport{
		ID:      r.ID,
		Target:  r.Target,
		Checks:  make([]jsonCheck, 0, len(r.Results)),
		Summary: make(map[string]int, len(check.Verdicts)),
		Overall: r.Overall,
	}
	if !r.StartedAt.IsZero() {
		doc.StartedAt = &r.StartedAt
	}
	if !r.FinishedAt.IsZero() {
		doc.FinishedAt = &r.FinishedAt
	}
	for _, res := range r.Results {
		doc.Checks = append(doc.Checks, jsonCheck{
			Name:      res.Name,
			Verdict:   res.Verdict,
			Detail:    res.Detail,
			LatencyMs: res.Latency.Milliseconds(),
		})
	}
	for _, v := range check.Verdicts {
		doc.Summary[v.String()] = r.Summary[v]
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a report written by MarshalJSON.
func (r *RunReport) UnmarshalJSON(data []byte) error {
	var doc jsonReport
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := RunReport{
		ID:      doc.ID,
		Target:  doc.Target,
		Results: make([]Result, 0, len(doc.Checks)),
		Summary: newSummary(),
		Overall: doc.Overall,
	}
	if doc.StartedAt != nil {
		out.StartedAt = *doc.StartedAt
	}
	if doc.FinishedAt != nil {
		out.FinishedAt = *doc.FinishedAt
	}
	for _, c := range doc.Checks {
		v, err := check.ParseVerdict(string(c.Verdict))
		if err != nil {
			return fmt.Errorf("check %q: %w", c.Name, err)
		}
		out.Results = append(out.Results, Result{
			Name:    c.Name,
			Verdict: v,
			Detail:  c.Detail,
			Latency: time.Duration(c.LatencyMs) * time.Millisecond,
		})
		out.Summary[v]++
	}
	*r = out
	return nil
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var verdictColors = map[check.Verdict]lipgloss.Color{
	check.VerdictPass:         lipgloss.Color("#00D26A"),
	check.VerdictFail:         lipgloss.Color("#FF3838"),
	check.VerdictInconclusive: lipgloss.Color("#FFD93D"),
	check.VerdictSkipped:      lipgloss.Color("#6B7280"),
	check.VerdictError:        lipgloss.Color("#FFB800"),
}

// WriteText renders a table of results followed by the summary. Colors are
// emitted only when w is a terminal.
func WriteText(w io.Writer, r *RunReport) error {
	re := lipgloss.NewRenderer(w)
	muted := re.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	title := re.NewStyle().Bold(true)

	nameWidth := 4
	for _, res := range r.Results {
		if n := len(res.Name); n > nameWidth {
			nameWidth = n
		}
	}
	nameCol := re.NewStyle().Width(nameWidth + 2)
	verdictCol := re.NewStyle().Width(14).Bold(true)
	latencyCol := re.NewStyle().Width(10).Align(lipgloss.Right).MarginRight(2)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", title.Render("Target:"), r.Target)
	if r.ID != "" {
		fmt.Fprintf(&b, "%s\n", muted.Render("run "+r.ID))
	}
	b.WriteString("\n")

	for _, res := range r.Results {
		badge := verdictCol.Foreground(verdictColors[res.Verdict]).Render(strings.ToUpper(res.Verdict.String()))
		line := lipgloss.JoinHorizontal(lipgloss.Top,
			badge,
			nameCol.Render(res.Name),
			latencyCol.Render(formatLatency(res.Latency)),
			muted.Render(res.Detail),
		)
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	b.WriteString("\n")
	parts := make([]string, 0, len(check.Verdicts))
	for _, v := range check.Verdicts {
		parts = append(parts, fmt.Sprintf("%s %d", v, r.Summary[v]))
	}
	fmt.Fprintf(&b, "%s %s\n", title.Render("Summary:"), strings.Join(parts, "  "))

	overall := re.NewStyle().Bold(true).Foreground(verdictColors[check.VerdictPass])
	if r.Overall != OverallPass {
		overall = overall.Foreground(verdictColors[check.VerdictFail])
	}
	fmt.Fprintf(&b, "%s %s\n", title.Render("Overall:"), overall.Render(strings.ToUpper(string(r.Overall))))

	_, err := io.WriteString(w, b.String())
	return err
}

func formatLatency(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
