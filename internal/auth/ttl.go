package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/cypherguy/internal/store"
)

const defaultSweepInterval = 5 * time.Minute

// StartSessionSweeper runs a background goroutine that periodically deletes
// sessions older than ttl. A non-positive ttl disables expiry entirely.
func StartSessionSweeper(ctx context.Context, repo store.Repository, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = min(defaultSweepInterval, ttl)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo store.Repository, ttl time.Duration) {
	deleted, err := repo.DeleteExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("session sweeper failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("session sweeper removed expired sessions", "count", deleted)
	}
}
