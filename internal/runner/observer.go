package runner

import (
	"context"
	"log/slog"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
)

// Progress logs each finished check. Failures and errors are logged at
// warn level.
type Progress struct {
	logger *slog.Logger
}

func NewProgress(logger *slog.Logger) *Progress {
	return &Progress{logger: logger}
}

func (p *Progress) CheckStarted(name string) {
	p.logger.Debug("check started", "check", name)
}

func (p *Progress) CheckFinished(r report.Result) {
	level := slog.LevelInfo
	if r.Verdict == check.VerdictError || r.Verdict == check.VerdictFail {
		level = slog.LevelWarn
	}
	p.logger.Log(context.Background(), level, "check finished",
		"check", r.Name, "verdict", r.Verdict, "latency", r.Latency, "detail", r.Detail)
}
