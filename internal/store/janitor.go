package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorInterval is how often StartSnapshotJanitor sweeps.
const DefaultJanitorInterval = 5 * time.Minute

// StartSnapshotJanitor runs a background goroutine that periodically removes
// session snapshots older than retention. It stops when ctx is cancelled.
func StartSnapshotJanitor(ctx context.Context, repo Repository, retention, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Snapshot janitor started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepSnapshots(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Snapshot janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepSnapshots(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.CleanupExpiredSnapshots(ctx, retention)
	if err != nil {
		slog.Error("Snapshot janitor failed to cleanup expired snapshots", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Snapshot janitor cleaned up expired snapshots", "count", deleted)
	}
}
