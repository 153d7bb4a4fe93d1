package crawl

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/scrape/util"
)

// siteFetcher is the fetcher one run sees: every attempt, retries included,
// first waits for the website's rate limiter, and transient failures are
// retried with exponential backoff up to a fixed number of times.
type siteFetcher struct {
	inner   fetch.Fetcher
	limiter *util.SiteLimiter
	site    domain.Website
	retries int
	initial time.Duration
	max     time.Duration
	log     *slog.Logger
}

func (f *siteFetcher) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initial
	exp.MaxInterval = f.max
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(f.retries, 0))), ctx)
}

// limitErr turns the limiter's early refusal (the next slot lies past the
// run deadline) into the deadline itself, so the run ends as timed out at
// its deadline rather than failing ahead of it.
func (f *siteFetcher) limitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); !ok {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *siteFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	attempt := 0
	op := func() (*fetch.Response, error) {
		attempt++
		if err := f.limiter.Wait(ctx, f.site.ID, f.site.RateLimit()); err != nil {
			return nil, backoff.Permanent(f.limitErr(ctx, err))
		}
		res, err := f.inner.Fetch(ctx, req)
		if err != nil && !fetch.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		f.log.Warn("crawl: fetch retry", "website_id", f.site.ID, "url", req.URL,
			"attempt", attempt, "wait_ms", wait.Milliseconds(), "err", err)
	}
	return backoff.RetryNotifyWithData(op, f.policy(ctx), notify)
}
