package util

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SiteLimiter spaces fetches per website. Each website gets its own limiter
// with burst 1, so two fetches for the same site are at least interval apart
// while different sites never wait on each other.
type SiteLimiter struct {
	mu sync.Mutex
	m  map[int64]*rate.Limiter
}

func NewSiteLimiter() *SiteLimiter {
	return &SiteLimiter{m: make(map[int64]*rate.Limiter)}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func (sl *SiteLimiter) limiterFor(websiteID int64, interval time.Duration) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	lim, ok := sl.m[websiteID]
	if !ok {
		lim = rate.NewLimiter(limitFor(interval), 1)
		sl.m[websiteID] = lim
		return lim
	}
	// rate_limit_ms may be edited between runs
	if l := limitFor(interval); lim.Limit() != l {
		lim.SetLimit(l)
	}
	return lim
}

// Wait blocks until the next fetch for websiteID is allowed or ctx ends.
func (sl *SiteLimiter) Wait(ctx context.Context, websiteID int64, interval time.Duration) error {
	return sl.limiterFor(websiteID, interval).Wait(ctx)
}

// Forget drops the limiter state for a website.
func (sl *SiteLimiter) Forget(websiteID int64) {
	sl.mu.Lock()
	delete(sl.m, websiteID)
	sl.mu.Unlock()
}
