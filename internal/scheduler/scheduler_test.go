package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/store"
)

func TestEveryRunsImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	done := make(chan struct{})
	go func() {
		Every(ctx, 10*time.Millisecond, "count", nil, func(context.Context) error {
			if n.Add(1) == 2 {
				return errors.New("second call fails")
			}
			return nil
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if n.Load() < 3 {
		t.Fatalf("task ran %d times, want >= 3 (errors must not stop the loop)", n.Load())
	}
}

func TestPruneRunLog(t *testing.T) {
	d, err := store.Open(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := store.CreateWebsite(ctx, d.Pool, domain.Website{Name: "shopa", BaseURL: "https://shopa.example"}, now)
	if err != nil {
		t.Fatal(err)
	}

	add := func(id string, age time.Duration, status domain.RunStatus) {
		r := domain.CrawlRun{ID: id, WebsiteID: w.ID, Status: domain.RunQueued, TriggeredBy: "test", StartedAt: now.Add(-age)}
		if err := store.CreateRun(ctx, d.Pool, r); err != nil {
			t.Fatal(err)
		}
		if status != domain.RunQueued {
			r.Finish(status, r.StartedAt.Add(time.Minute))
			if err := store.UpdateRun(ctx, d.Pool, r); err != nil {
				t.Fatal(err)
			}
		}
	}
	add("old-success", 100*24*time.Hour, domain.RunSuccess)
	add("old-failed", 95*24*time.Hour, domain.RunFailed)
	add("recent", 2*24*time.Hour, domain.RunSuccess)
	add("old-queued", 120*24*time.Hour, domain.RunQueued)

	keep := 90 * 24 * time.Hour
	task := PruneRunLog(d.Pool, func() time.Duration { return keep }, func() time.Time { return now }, nil)
	if err := task(ctx); err != nil {
		t.Fatal(err)
	}

	_, total, err := store.ListRuns(ctx, d.Pool, store.RunFilter{WebsiteID: w.ID})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("runs left = %d, want 2 (recent and the non-terminal one)", total)
	}
	if _, err := store.GetRun(ctx, d.Pool, "old-success"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("old run still present: %v", err)
	}

	// a shorter retention set while running applies on the next tick
	keep = 24 * time.Hour
	if err := task(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRun(ctx, d.Pool, "recent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("recent run kept after retention shrank: %v", err)
	}
}
