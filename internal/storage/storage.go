package storage

import (
	"context"
	"time"

	"github.com/y0f/apiprobe/internal/report"
)

// Store persists finalized run reports.
type Store interface {
	SaveRun(ctx context.Context, r *report.RunReport) error
	// GetRun looks a run up by full ID or unique ID prefix. A missing run
	// yields sql.ErrNoRows.
	GetRun(ctx context.Context, id string) (*report.RunReport, error)
	// LatestRun returns the most recent run against target, skipping
	// the run with ID exclude.
	LatestRun(ctx context.Context, target, exclude string) (*report.RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]*RunSummary, error)
	PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
