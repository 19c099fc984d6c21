// Package report accumulates check results into a RunReport and renders it.
package report

import (
	"time"

	"github.com/y0f/apiprobe/internal/check"
)

// Overall is the run-level status.
type Overall string

const (
	OverallPass Overall = "pass"
	OverallFail Overall = "fail"
)

// Result is the terminal record of one check.
type Result struct {
	Name    string
	Verdict check.Verdict
	Detail  string
	Latency time.Duration
}

// Summary counts results per verdict. Every verdict has an entry.
type Summary map[check.Verdict]int

// Total returns the number of results counted.
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

func newSummary() Summary {
	s := make(Summary, len(check.Verdicts))
	for _, v := range check.Verdicts {
		s[v] = 0
	}
	return s
}

// RunReport is the finalized output of a run. It is not modified after
// Finalize returns it.
type RunReport struct {
	ID         string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
	Summary    Summary
	Overall    Overall
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result returns the record for the named check.
func (r *RunReport) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

// overallOf is pass only when every non-skipped result passed.
func overallOf(results []Result) Overall {
	for _, r := range results {
		if r.Verdict != check.VerdictPass && r.Verdict != check.VerdictSkipped {
			return OverallFail
		}
	}
	return OverallPass
}

// ExitCode maps a report to a process exit status. With failOnInconclusive
// unset, inconclusive results alone do not fail the process.
func ExitCode(r *RunReport, failOnInconclusive bool) int {
	if r.Overall == OverallPass {
		return 0
	}
	if !failOnInconclusive {
		for _, res := range r.Results {
			switch res.Verdict {
			case check.VerdictPass, check.VerdictSkipped, check.VerdictInconclusive:
				continue
			}
			return 1
		}
		return 0
	}
	return 1
}
