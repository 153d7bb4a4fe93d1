package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/scrape"
	"pricewatch-engine/internal/store"
)

// outcome is what the page loop ended with.
type outcome struct {
	status   domain.RunStatus
	err      error // recorded as the run's fatal error when set
	complete bool  // the item sequence was exhausted, not cut short
}

func (o *Orchestrator) run(j *job) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.active, j.site.ID)
		o.mu.Unlock()
		j.cancelStop()
		close(j.done)
	}()

	log := o.log.With("run_id", j.rec.Snapshot().ID, "website_id", j.site.ID)

	// queued until a worker slot frees up, or until stopped
	if err := o.sem.Acquire(j.stopCtx, 1); err != nil {
		o.finish(j, nil, outcome{status: domain.RunStopped})
		return
	}
	defer o.sem.Release(1)

	ctx, cancel := context.WithTimeout(o.base, o.cfg.RunTimeout)
	defer cancel()

	if j.stopped.Load() {
		o.finish(j, nil, outcome{status: domain.RunStopped})
		return
	}
	if err := j.rec.Start(ctx); err != nil {
		o.finish(j, nil, outcome{status: domain.RunFailed, err: err})
		return
	}
	log.Info("crawl run started")

	cfg, err := o.d.Resolver.ResolveActive(ctx, j.site.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = &domain.ConfigError{Field: "config", Message: "website has no active scraper config"}
		}
		o.finish(j, nil, outcome{status: domain.RunFailed, err: err})
		return
	}

	opts := scrape.Options{MaxPages: j.opts.MaxPages, Resume: j.resume, Logger: log}
	if !j.opts.FullScrape && j.site.LastScrapedAt != nil {
		opts.Since = j.site.LastScrapedAt
	}
	sf := &siteFetcher{
		inner:   o.d.Fetcher,
		limiter: o.limiter,
		site:    j.site,
		retries: o.cfg.FetchRetries,
		initial: o.cfg.RetryInitial,
		max:     o.cfg.RetryMax,
		log:     log,
	}
	it, err := scrape.New(cfg, j.site, sf, opts)
	if err != nil {
		o.finish(j, nil, outcome{status: domain.RunFailed, err: err})
		return
	}

	res := o.loop(ctx, j, it)

	if res.status == domain.RunSuccess {
		o.afterSuccess(ctx, j, cfg, opts, res)
	}
	o.finish(j, it, res)
}

// loop pulls pages until the sequence ends, a stop is requested or a fatal
// condition occurs. Stop is only checked between pages.
func (o *Orchestrator) loop(ctx context.Context, j *job, it scrape.Iterator) outcome {
	var ok, failed, consecutive int

	for {
		if j.stopped.Load() {
			return outcome{status: domain.RunStopped}
		}

		page, err := it.Next(ctx)
		if errors.Is(err, scrape.Done) {
			break
		}
		if ctx.Err() != nil {
			return o.timedOut(ctx)
		}
		if page != nil {
			j.rec.Page(page.Counted())
		}

		if err != nil {
			var fe *fetch.Error
			if !errors.As(err, &fe) {
				return outcome{status: domain.RunFailed, err: err}
			}
			j.rec.Error(err)
			failed++
			consecutive++
			if consecutive >= o.cfg.MaxConsecutiveFailures {
				return outcome{status: domain.RunFailed,
					err: fmt.Errorf("%d consecutive pages failed, giving up", consecutive)}
			}
			_ = j.rec.Flush(ctx)
			continue
		}
		consecutive = 0
		ok++

		for _, perr := range page.Errors {
			j.rec.ItemError(perr)
		}
		for _, item := range page.Items {
			r, err := o.d.Ingest.Ingest(ctx, j.site, j.rec.Snapshot().ID, item)
			if err != nil {
				var pe *domain.ParseError
				if errors.As(err, &pe) {
					j.rec.ItemError(err)
					continue
				}
				if ctx.Err() != nil {
					return o.timedOut(ctx)
				}
				return outcome{status: domain.RunFailed, err: err}
			}
			j.rec.Item(r)
		}
		if err := j.rec.Flush(ctx); err != nil {
			o.log.Warn("crawl: flush run progress", "website_id", j.site.ID, "err", err)
		}
	}

	if ok == 0 && failed > 0 {
		return outcome{status: domain.RunFailed, err: fmt.Errorf("all %d page fetches failed", failed)}
	}
	return outcome{status: domain.RunSuccess, complete: failed == 0}
}

func (o *Orchestrator) timedOut(ctx context.Context) outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return outcome{status: domain.RunFailed, err: fmt.Errorf("run timeout after %s", o.cfg.RunTimeout)}
	}
	// base context cancelled: forced shutdown
	return outcome{status: domain.RunStopped}
}

// afterSuccess stamps last_scraped_at and, for runs that saw the whole
// catalog, ages products that were not seen.
func (o *Orchestrator) afterSuccess(ctx context.Context, j *job, cfg domain.ScraperConfig, opts scrape.Options, res outcome) {
	run := j.rec.Snapshot()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := store.SetLastScraped(wctx, o.d.DB, j.site.ID, run.StartedAt); err != nil {
		o.log.Error("crawl: set last_scraped_at", "website_id", j.site.ID, "err", err)
	}

	limit := opts.MaxPages
	if limit <= 0 {
		limit = scrape.DefaultListingMaxPages
		if cfg.Type == domain.ConfigSitemap {
			limit = scrape.DefaultSitemapMaxPages
		}
	}
	full := cfg.Type == domain.ConfigListing || opts.Since == nil
	if !res.complete || !full || j.resume != nil || run.PagesScraped >= limit {
		return
	}
	n, err := store.MarkMissed(wctx, o.d.DB, j.site.ID, run.StartedAt, o.cfg.StaleAfterRuns)
	if err != nil {
		o.log.Error("crawl: mark missed products", "website_id", j.site.ID, "err", err)
		return
	}
	if n > 0 {
		o.log.Info("crawl: products marked stale", "website_id", j.site.ID, "count", n)
	}
}

func (o *Orchestrator) finish(j *job, it scrape.Iterator, res outcome) {
	if res.err != nil {
		j.rec.Error(res.err)
	}
	var cursor json.RawMessage
	if res.status == domain.RunStopped && it != nil {
		if b, err := json.Marshal(it.Cursor()); err == nil {
			cursor = b
		}
	}
	if _, err := j.rec.Finish(o.base, res.status, cursor); err != nil {
		o.log.Error("crawl: finish run", "website_id", j.site.ID, "err", err)
	}
}
