// Package telemetry keeps the live state of a crawl run, persists it to the
// run log and pushes lifecycle events to subscribers.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/store"
)

// MaxRunErrors caps the structured error list kept per run. Counters keep
// counting past the cap.
const MaxRunErrors = 200

// Recorder is safe for concurrent use. Once Finish has been called the run is
// frozen and further updates are ignored.
type Recorder struct {
	db  *sql.DB
	pub events.Publisher
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	run     domain.CrawlRun
	frozen  bool
	dropped int
}

func NewRecorder(db *sql.DB, pub events.Publisher, log *slog.Logger, run domain.CrawlRun) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{db: db, pub: pub, log: log, now: time.Now, run: run}
}

func (r *Recorder) Snapshot() domain.CrawlRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() domain.CrawlRun {
	c := r.run
	c.Errors = append([]domain.RunError(nil), r.run.Errors...)
	return c
}

// Create inserts the queued run. It fails with domain.ErrConflict when the
// website already has a non-terminal run.
func (r *Recorder) Create(ctx context.Context) error {
	r.mu.Lock()
	run := r.snapshotLocked()
	r.mu.Unlock()
	if err := store.CreateRun(ctx, r.db, run); err != nil {
		return err
	}
	r.publish(events.RunQueued, run)
	return nil
}

// Start moves the run to running.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return nil
	}
	r.run.Status = domain.RunRunning
	run := r.snapshotLocked()
	r.mu.Unlock()

	if err := store.UpdateRun(ctx, r.db, run); err != nil {
		return err
	}
	r.publish(events.RunStarted, run)
	return nil
}

func (r *Recorder) Page(counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen || !counted {
		return
	}
	r.run.PagesScraped++
}

func (r *Recorder) Item(res ingest.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.run.ProductsFound++
	switch res.Outcome {
	case ingest.Created:
		r.run.ProductsCreated++
	case ingest.Updated:
		r.run.ProductsUpdated++
	}
	if res.PriceRecorded {
		r.run.PricesRecorded++
	}
}

// ItemError records an item that could not be extracted or ingested.
func (r *Recorder) ItemError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.run.ItemErrors++
	r.addLocked(Classify(err, r.now()))
}

// Error records a page-level or fatal error without touching counters.
func (r *Recorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.addLocked(Classify(err, r.now()))
}

func (r *Recorder) addLocked(e domain.RunError) {
	if len(r.run.Errors) >= MaxRunErrors {
		r.dropped++
		return
	}
	r.run.Errors = append(r.run.Errors, e)
}

// Flush persists current counters and publishes a progress event.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return nil
	}
	run := r.snapshotLocked()
	r.mu.Unlock()

	if err := store.UpdateRun(ctx, r.db, run); err != nil {
		return err
	}
	r.publish(events.RunProgress, run)
	return nil
}

// Finish freezes the run in a terminal status and persists it. The write
// ignores ctx cancellation so a timed-out run is still recorded.
func (r *Recorder) Finish(ctx context.Context, status domain.RunStatus, cursor json.RawMessage) (domain.CrawlRun, error) {
	r.mu.Lock()
	if r.frozen {
		run := r.snapshotLocked()
		r.mu.Unlock()
		return run, nil
	}
	if r.dropped > 0 {
		r.run.Errors = append(r.run.Errors, domain.RunError{
			Kind:    domain.KindFatal,
			Message: fmt.Sprintf("error list truncated: %d more errors not recorded", r.dropped),
			At:      r.now(),
		})
	}
	r.run.Cursor = nil
	if status == domain.RunStopped {
		r.run.Cursor = cursor
	}
	r.run.Finish(status, r.now())
	r.frozen = true
	run := r.snapshotLocked()
	r.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.UpdateRun(wctx, r.db, run); err != nil {
		r.log.Error("telemetry: persist finished run", "run_id", run.ID, "err", err)
		return run, err
	}

	r.log.Info("crawl run finished",
		"run_id", run.ID, "website_id", run.WebsiteID, "status", run.Status,
		"pages", run.PagesScraped, "found", run.ProductsFound, "created", run.ProductsCreated,
		"updated", run.ProductsUpdated, "prices", run.PricesRecorded,
		"item_errors", run.ItemErrors, "dur_s", *run.DurationSeconds)
	r.publish(events.RunFinished, run)
	return run, nil
}

func (r *Recorder) publish(typ string, run domain.CrawlRun) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(events.MakeEvent("", typ, events.RunEventVersion, run))
}

// Classify maps an error onto the run log's error taxonomy.
func Classify(err error, at time.Time) domain.RunError {
	e := domain.RunError{Kind: domain.KindFatal, Message: err.Error(), At: at}

	var (
		ce  *domain.ConfigError
		ces domain.ConfigErrors
		fe  *fetch.Error
		pe  *domain.ParseError
	)
	switch {
	case errors.As(err, &ce):
		e.Kind = domain.KindConfig
		e.Field = ce.Field
	case errors.As(err, &ces):
		e.Kind = domain.KindConfig
		if len(ces) > 0 {
			e.Field = ces[0].Field
		}
	case errors.As(err, &fe):
		e.Kind = domain.KindFetch
		e.URL = fe.URL
		e.Status = fe.StatusCode
	case errors.As(err, &pe):
		e.Kind = domain.KindParse
		e.URL = pe.URL
		e.Field = pe.Field
		e.Selector = pe.Selector
		e.Message = pe.Message
	}
	return e
}
