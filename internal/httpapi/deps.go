package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"

	"pricewatch-engine/internal/config"
	"pricewatch-engine/internal/crawl"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/search"
)

// Crawler is the part of the orchestrator the API drives.
type Crawler interface {
	Trigger(ctx context.Context, websiteID int64, opts crawl.Options) (domain.CrawlRun, error)
	Stop(ctx context.Context, websiteID int64) (domain.CrawlRun, error)
	Active(websiteID int64) (domain.CrawlRun, bool)
}

type Deps struct {
	DB *sql.DB

	Hub *events.Hub

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath    string
	LoadCfg        func() (config.Config, error)
	OnConfigChange func(prev, next config.Config, r config.Reload)

	Crawl    Crawler
	Resolver *resolver.Resolver
	Search   *search.Engine

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}
