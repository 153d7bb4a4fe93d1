// Package scheduler runs housekeeping tasks on a fixed interval. Crawls are
// only ever triggered explicitly.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"pricewatch-engine/internal/store"
)

type Task func(ctx context.Context) error

func Every(ctx context.Context, interval time.Duration, name string, log *slog.Logger, task Task) {
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	// run immediately
	if err := task(ctx); err != nil && ctx.Err() == nil {
		log.Error("scheduled task failed", "task", name, "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := task(ctx); err != nil && ctx.Err() == nil {
				log.Error("scheduled task failed", "task", name, "err", err)
			}
		}
	}
}

// PruneRunLog deletes terminal crawl runs that started more than keep() ago.
// keep is read on every tick so a config change applies to the next prune.
func PruneRunLog(db *sql.DB, keep func() time.Duration, now func() time.Time, log *slog.Logger) Task {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) error {
		age := keep()
		n, err := store.PruneRuns(ctx, db, now().Add(-age))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("run log pruned", "deleted", n, "older_than", age)
		}
		return nil
	}
}
