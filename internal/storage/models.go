package storage

import (
	"time"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
)

// RunSummary is a row of the run history listing.
type RunSummary struct {
	ID         string         `json:"id"`
	Target     string         `json:"target"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Overall    report.Overall `json:"overall"`
	Checks     int            `json:"checks"`
	Pass       int            `json:"pass"`
	Fail       int            `json:"fail"`
	Inconc     int            `json:"inconclusive"`
	Skipped    int            `json:"skipped"`
	Errored    int            `json:"error"`
}

func summaryCounts(s report.Summary) (pass, fail, inconclusive, skipped, errored int) {
	return s[check.VerdictPass], s[check.VerdictFail], s[check.VerdictInconclusive], s[check.VerdictSkipped], s[check.VerdictError]
}
