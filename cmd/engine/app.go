package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"pricewatch-engine/internal/config"
	"pricewatch-engine/internal/crawl"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/rank"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/search"
	"pricewatch-engine/internal/store"
)

// app holds everything a command needs. Writers hold the data dir lock
// exclusively; read-only commands share it.
type app struct {
	dataDir string
	cfgPath string
	cfg     config.Config
	cfgVal  *atomic.Value
	log     *slog.Logger

	lock    *flock.Flock
	db      *store.DB
	hub     *events.Hub
	browser *fetch.BrowserFetcher

	resolver *resolver.Resolver
	ingest   *ingest.Engine
	crawl    *crawl.Orchestrator
	search   *search.Engine
}

func openApp(ctx context.Context, f *rootFlags, exclusive bool) (*app, error) {
	a := &app{log: slog.Default(), cfgVal: &atomic.Value{}, hub: events.NewHub()}

	// Engine data dir: flag, then env, else local folder.
	a.dataDir = f.DataDir
	if a.dataDir == "" {
		a.dataDir = os.Getenv("PRICEWATCH_DATA_DIR")
	}
	if a.dataDir == "" {
		a.dataDir = "."
	}
	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return nil, err
	}

	a.lock = flock.New(filepath.Join(a.dataDir, "engine.lock"))
	var locked bool
	var err error
	if exclusive {
		locked, err = a.lock.TryLock()
	} else {
		locked, err = a.lock.TryRLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another engine process", a.dataDir)
	}

	if err := a.loadConfig(f); err != nil {
		a.close()
		return nil, err
	}

	dbPath := filepath.Join(a.dataDir, "pricewatch.db")
	a.db, err = store.Open(dbPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open db %s: %w", dbPath, err)
	}
	if err := store.Migrate(a.db.Pool); err != nil {
		a.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if exclusive {
		// runs left behind by a crashed process can never finish
		n, err := store.FailInterrupted(ctx, a.db.Pool, time.Now())
		if err != nil {
			a.close()
			return nil, err
		}
		if n > 0 {
			a.log.Warn("marked interrupted runs as failed", "count", n)
		}
	}

	a.build()
	return a, nil
}

func (a *app) loadConfig(f *rootFlags) error {
	a.cfgPath = f.ConfigPath
	if a.cfgPath == "" {
		p, err := config.EnsureUserConfig(a.dataDir, f.DefaultConfig)
		if err != nil {
			return fmt.Errorf("config bootstrap failed: %w", err)
		}
		a.cfgPath = p
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", a.cfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(cfg)
	for _, w := range vr.Warnings {
		a.log.Warn("config", "warning", w)
	}
	if !vr.OK() {
		return fmt.Errorf("config %s is invalid:\n- %s", a.cfgPath, strings.Join(vr.Errors, "\n- "))
	}
	if f.Verbose {
		cfg.App.LogLevel = "debug"
	}
	a.cfg = cfg
	a.cfgVal.Store(cfg)
	a.log = newLogger(cfg.App.LogLevel)
	slog.SetDefault(a.log)
	return nil
}

func (a *app) build() {
	cfg := a.cfg
	httpF := fetch.NewHTTP(
		fetch.WithTimeout(cfg.FetchTimeout()),
		fetch.WithUserAgent(cfg.Crawl.UserAgent),
		fetch.WithLogger(a.log),
	)
	var f fetch.Fetcher = httpF
	if cfg.Crawl.BrowserEnabled {
		a.browser = fetch.NewBrowser(cfg.Crawl.BrowserURL, cfg.FetchTimeout(), a.log)
		f = fetch.Router{HTTP: httpF, Browser: a.browser}
	}

	a.resolver = resolver.New(a.db.Pool, a.log)
	a.ingest = ingest.New(a.db.Pool, a.log)
	a.crawl = crawl.New(crawl.Deps{
		DB:       a.db.Pool,
		Fetcher:  f,
		Resolver: a.resolver,
		Ingest:   a.ingest,
		Events:   a.hub,
		Logger:   a.log,
	}, crawl.Config{
		Workers:                cfg.Crawl.Workers,
		RunTimeout:             cfg.RunTimeout(),
		FetchRetries:           cfg.Crawl.FetchRetries,
		RetryInitial:           cfg.RetryInitial(),
		RetryMax:               cfg.RetryMax(),
		MaxConsecutiveFailures: cfg.Crawl.MaxConsecutiveFailures,
		StaleAfterRuns:         cfg.Ingest.StaleAfterRuns,
	})

	a.search = search.New(a.db.Pool, rank.Lexical{SetWeight: cfg.Search.SetWeight, SortWeight: cfg.Search.SortWeight}, a.log)
	a.search.MinScore = cfg.Search.MinScore
}

// liveConfig is the config as last saved through the API.
func (a *app) liveConfig() config.Config {
	if c, ok := a.cfgVal.Load().(config.Config); ok {
		return c
	}
	return a.cfg
}

// configChanged re-applies the sites file when its path changed. Drops and
// retention read the live config themselves.
func (a *app) configChanged(ctx context.Context, next config.Config, r config.Reload) {
	if r.Has(config.KeySitesFile) {
		if _, err := a.seedSitesFrom(ctx, next.SitesFile); err != nil {
			a.log.Error("config: sites file", "path", next.SitesFile, "err", err)
		}
	}
	if len(r.RestartRequired) > 0 {
		a.log.Warn("config saved; restart to apply", "settings", r.RestartRequired)
	}
}

// seedSites applies the configured sites file, if any, to the database.
func (a *app) seedSites(ctx context.Context) (config.SeedReport, error) {
	return a.seedSitesFrom(ctx, a.cfg.SitesFile)
}

func (a *app) seedSitesFrom(ctx context.Context, path string) (config.SeedReport, error) {
	if path == "" {
		return config.SeedReport{}, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.dataDir, path)
	}
	sf, err := config.LoadSites(path)
	if err != nil {
		return config.SeedReport{}, err
	}
	rep, err := config.OverlaySites(ctx, a.db.Pool, a.resolver, sf, a.log)
	if err != nil {
		return rep, err
	}
	if len(sf.Websites) > 0 {
		a.log.Info("sites file applied", "path", path, "created", rep.Created, "updated", rep.Updated, "configs_changed", rep.ConfigsChanged)
	}
	return rep, nil
}

// websiteArg accepts a numeric id or a website name.
func (a *app) websiteArg(ctx context.Context, arg string) (domain.Website, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return store.GetWebsite(ctx, a.db.Pool, id)
	}
	w, err := store.GetWebsiteByName(ctx, a.db.Pool, arg)
	if errors.Is(err, domain.ErrNotFound) {
		return w, fmt.Errorf("website %q: %w", arg, err)
	}
	return w, err
}

func (a *app) close() {
	if a.crawl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.crawl.Shutdown(ctx); err != nil {
			a.log.Warn("crawl shutdown", "err", err)
		}
		cancel()
	}
	if a.browser != nil {
		_ = a.browser.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
