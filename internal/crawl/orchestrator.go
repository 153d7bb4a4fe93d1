// Package crawl runs crawl jobs: at most one per website, a bounded number
// overall, each driving the extraction pipeline into the ingestion engine.
package crawl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/scrape"
	"pricewatch-engine/internal/scrape/util"
	"pricewatch-engine/internal/store"
	"pricewatch-engine/internal/telemetry"
)

var (
	// ErrNoActiveRun is returned by Stop when the website has nothing to stop.
	ErrNoActiveRun = fmt.Errorf("no active run: %w", domain.ErrNotFound)
	ErrClosed      = errors.New("crawl: orchestrator is shutting down")
)

type Config struct {
	Workers                int
	RunTimeout             time.Duration
	FetchRetries           int
	RetryInitial           time.Duration
	RetryMax               time.Duration
	MaxConsecutiveFailures int
	StaleAfterRuns         int
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Minute
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 10 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 10
	}
	if c.StaleAfterRuns <= 0 {
		c.StaleAfterRuns = 3
	}
}

type Options struct {
	FullScrape  bool   `json:"full_scrape"`
	MaxPages    int    `json:"max_pages"`
	Resume      bool   `json:"resume"`
	TriggeredBy string `json:"triggered_by"`
}

type Deps struct {
	DB       *sql.DB
	Fetcher  fetch.Fetcher
	Resolver *resolver.Resolver
	Ingest   *ingest.Engine
	Events   events.Publisher
	Logger   *slog.Logger
}

type Orchestrator struct {
	d       Deps
	cfg     Config
	limiter *util.SiteLimiter
	sem     *semaphore.Weighted
	log     *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[int64]*job
	closed bool
	wg     sync.WaitGroup

	Now   func() time.Time
	NewID func() string
}

type job struct {
	site   domain.Website
	opts   Options
	resume *scrape.Cursor
	rec    *telemetry.Recorder

	stopped    atomic.Bool
	stopCtx    context.Context
	cancelStop context.CancelFunc
	done       chan struct{}
}

func (j *job) requestStop() {
	j.stopped.Store(true)
	j.cancelStop()
}

func New(d Deps, cfg Config) *Orchestrator {
	cfg.defaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		d:       d,
		cfg:     cfg,
		limiter: util.NewSiteLimiter(),
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		log:     d.Logger,
		base:    base,
		cancel:  cancel,
		active:  make(map[int64]*job),
		Now:     time.Now,
		NewID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Trigger queues a run for a website and returns it in the queued state. A
// website that already has a queued or running run gets domain.ErrConflict;
// an inactive one gets domain.ErrInvalid.
func (o *Orchestrator) Trigger(ctx context.Context, websiteID int64, opts Options) (domain.CrawlRun, error) {
	site, err := store.GetWebsite(ctx, o.d.DB, websiteID)
	if err != nil {
		return domain.CrawlRun{}, err
	}
	if !site.IsActive {
		return domain.CrawlRun{}, fmt.Errorf("website %d is not active: %w", websiteID, domain.ErrInvalid)
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}

	j := &job{site: site, opts: opts, done: make(chan struct{})}
	if opts.Resume {
		j.resume = o.resumeCursor(ctx, websiteID)
	}
	j.stopCtx, j.cancelStop = context.WithCancel(o.base)
	j.rec = telemetry.NewRecorder(o.d.DB, o.d.Events, o.log, domain.CrawlRun{
		ID:          o.NewID(),
		WebsiteID:   websiteID,
		Status:      domain.RunQueued,
		TriggeredBy: opts.TriggeredBy,
		FullScrape:  opts.FullScrape,
		MaxPages:    opts.MaxPages,
		StartedAt:   o.Now().UTC(),
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		j.cancelStop()
		return domain.CrawlRun{}, ErrClosed
	}
	if cur, ok := o.active[websiteID]; ok {
		o.mu.Unlock()
		j.cancelStop()
		return cur.rec.Snapshot(), fmt.Errorf("website %d: run already active: %w", websiteID, domain.ErrConflict)
	}
	o.active[websiteID] = j
	o.wg.Add(1)
	o.mu.Unlock()

	// the partial unique index backs up the in-memory check across processes
	if err := j.rec.Create(ctx); err != nil {
		o.mu.Lock()
		delete(o.active, websiteID)
		o.mu.Unlock()
		j.cancelStop()
		close(j.done)
		o.wg.Done()
		return domain.CrawlRun{}, err
	}

	run := j.rec.Snapshot()
	go o.run(j)

	o.log.Info("crawl run queued", "run_id", run.ID, "website_id", websiteID,
		"full", opts.FullScrape, "max_pages", opts.MaxPages, "resume", j.resume != nil)
	return run, nil
}

// resumeCursor returns the cursor of the website's latest run when that run
// was stopped.
func (o *Orchestrator) resumeCursor(ctx context.Context, websiteID int64) *scrape.Cursor {
	last, err := store.LatestRun(ctx, o.d.DB, websiteID)
	if err != nil || last.Status != domain.RunStopped || len(last.Cursor) == 0 {
		return nil
	}
	var c scrape.Cursor
	if err := json.Unmarshal(last.Cursor, &c); err != nil {
		o.log.Warn("crawl: unreadable cursor", "run_id", last.ID, "err", err)
		return nil
	}
	return &c
}

// Stop asks the website's run to stop. The run finishes the page it is on
// and then ends as stopped; a run still queued is stopped right away.
func (o *Orchestrator) Stop(_ context.Context, websiteID int64) (domain.CrawlRun, error) {
	o.mu.Lock()
	j, ok := o.active[websiteID]
	o.mu.Unlock()
	if !ok {
		return domain.CrawlRun{}, ErrNoActiveRun
	}
	j.requestStop()
	o.log.Info("crawl run stop requested", "run_id", j.rec.Snapshot().ID, "website_id", websiteID)
	return j.rec.Snapshot(), nil
}

// Active returns the live state of the website's non-terminal run.
func (o *Orchestrator) Active(websiteID int64) (domain.CrawlRun, bool) {
	o.mu.Lock()
	j, ok := o.active[websiteID]
	o.mu.Unlock()
	if !ok {
		return domain.CrawlRun{}, false
	}
	return j.rec.Snapshot(), true
}

// Wait blocks until the website has no active run or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, websiteID int64) error {
	o.mu.Lock()
	j, ok := o.active[websiteID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new runs, asks every active run to stop and waits for
// them. If ctx ends first, in-flight fetches are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	jobs := make([]*job, 0, len(o.active))
	for _, j := range o.active {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	for _, j := range jobs {
		j.requestStop()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// Run triggers a run and waits for it to finish, returning the final log
// entry.
func (o *Orchestrator) Run(ctx context.Context, websiteID int64, opts Options) (domain.CrawlRun, error) {
	run, err := o.Trigger(ctx, websiteID, opts)
	if err != nil {
		return run, err
	}
	if err := o.Wait(ctx, websiteID); err != nil {
		return run, err
	}
	return store.GetRun(ctx, o.d.DB, run.ID)
}
