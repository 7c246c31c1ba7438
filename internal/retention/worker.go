// Package retention prunes old chat history in the background.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes unpinned chat messages older than maxAge.
type Pruner interface {
	DeleteExpiredChatMessages(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StartWorker sweeps expired messages every interval until ctx is done.
// A non-positive maxAge disables the worker.
func StartWorker(ctx context.Context, store Pruner, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		slog.Info("Retention worker disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, store, maxAge)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, store Pruner, maxAge time.Duration) int64 {
	deleted, err := store.DeleteExpiredChatMessages(ctx, maxAge)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted", "error", err)
			return 0
		}
		slog.Error("Retention worker failed to prune chat messages", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker pruned chat messages", "count", deleted, "max_age", maxAge)
	}
	return deleted
}
