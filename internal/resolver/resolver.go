// Package resolver loads and saves the versioned scraper config of a website.
package resolver

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/scrape/util"
	"pricewatch-engine/internal/store"
)

type Resolver struct {
	db  *sql.DB
	log *slog.Logger
	Now func() time.Time
}

func New(db *sql.DB, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{db: db, log: log, Now: time.Now}
}

// ResolveActive returns the single active config of a website, normalized.
// A missing config is domain.ErrNotFound; an invalid one is a
// domain.ConfigErrors.
func (r *Resolver) ResolveActive(ctx context.Context, websiteID int64) (domain.ScraperConfig, error) {
	cfg, err := store.ActiveConfig(ctx, r.db, websiteID)
	if err != nil {
		return domain.ScraperConfig{}, err
	}
	cfg.Normalize()
	if err := Check(cfg); err != nil {
		return domain.ScraperConfig{}, err
	}
	return cfg, nil
}

// Save normalizes and validates cfg, then stores it as the website's next
// active version.
func (r *Resolver) Save(ctx context.Context, cfg domain.ScraperConfig) (domain.ScraperConfig, error) {
	cfg.Normalize()
	if err := Check(cfg); err != nil {
		return domain.ScraperConfig{}, err
	}
	saved, err := store.SaveConfig(ctx, r.db, cfg, r.Now())
	if err != nil {
		return domain.ScraperConfig{}, err
	}
	r.log.Info("scraper config saved", "website_id", saved.WebsiteID, "version", saved.Version, "type", saved.Type)
	return saved, nil
}

// SaveIfChanged saves cfg only when it extracts differently from the active
// config. changed is false when the active config was kept.
func (r *Resolver) SaveIfChanged(ctx context.Context, cfg domain.ScraperConfig) (saved domain.ScraperConfig, changed bool, err error) {
	cfg.Normalize()
	active, err := store.ActiveConfig(ctx, r.db, cfg.WebsiteID)
	switch {
	case err == nil:
		active.Normalize()
		if active.Equivalent(cfg) {
			return active, false, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ScraperConfig{}, false, err
	}
	saved, err = r.Save(ctx, cfg)
	return saved, err == nil, err
}

func (r *Resolver) History(ctx context.Context, websiteID int64) ([]domain.ScraperConfig, error) {
	if _, err := store.GetWebsite(ctx, r.db, websiteID); err != nil {
		return nil, err
	}
	return store.ListConfigs(ctx, r.db, websiteID)
}

// Check validates structure and compiles every selector.
func Check(cfg domain.ScraperConfig) error {
	var errs domain.ConfigErrors
	if err := cfg.Validate(); err != nil {
		var ces domain.ConfigErrors
		if !errors.As(err, &ces) {
			return err
		}
		errs = append(errs, ces...)
	}

	s := cfg.Selectors
	sels := [][2]string{
		{"selectors.container", s.Container},
		{"selectors.item", s.Item},
		{"selectors.name", s.Name},
		{"selectors.brand", s.Brand},
		{"selectors.price", s.Price},
		{"selectors.original_price", s.OriginalPrice},
		{"selectors.image", s.Image},
		{"selectors.url", s.URL},
		{"selectors.in_stock", s.InStock},
		{"selectors.external_id", s.ExternalID},
		{"selectors.wait_for", s.WaitFor},
	}
	if cfg.Listing != nil {
		sels = append(sels, [2]string{"listing_config.pagination.next_selector", cfg.Listing.Pagination.NextSelector})
	}
	for _, f := range sels {
		if _, err := util.CompileSelector(f[1]); err != nil {
			errs = append(errs, &domain.ConfigError{Field: f[0], Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
