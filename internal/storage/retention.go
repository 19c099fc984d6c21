package storage

import (
	"context"
	"log/slog"
	"time"
)

// Purge deletes runs older than retentionDays. A non-positive retention
// keeps everything.
func Purge(ctx context.Context, store Store, retentionDays int, logger *slog.Logger) {
	if retentionDays <= 0 {
		return
	}
	before := time.Now().AddDate(0, 0, -retentionDays)
	deleted, err := store.PurgeRunsBefore(ctx, before)
	if err != nil {
		logger.Error("retention purge failed", "error", err)
		return
	}
	if deleted > 0 {
		logger.Info("retention purge completed", "deleted", deleted, "before", before.Format(time.RFC3339))
	}
}
