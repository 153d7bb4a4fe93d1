// config/overlay.go
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/store"
)

// SitesFile seeds websites and their scraper configs.
type SitesFile struct {
	Websites []SiteSeed `yaml:"websites"`
}

type SiteSeed struct {
	Name        string                `yaml:"name"`
	BaseURL     string                `yaml:"base_url"`
	Currency    string                `yaml:"currency"`
	IsActive    *bool                 `yaml:"is_active"`
	RateLimitMS *int                  `yaml:"rate_limit_ms"`
	Config      *domain.ScraperConfig `yaml:"config"`
}

type SeedReport struct {
	Created        int
	Updated        int
	ConfigsChanged int
}

func LoadSites(path string) (SitesFile, error) {
	var sf SitesFile
	b, err := os.ReadFile(path)
	if err != nil {
		// Missing sites file should not kill startup
		if errors.Is(err, os.ErrNotExist) {
			return sf, nil
		}
		return sf, err
	}
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return sf, fmt.Errorf("%s: %w", path, err)
	}
	return sf, nil
}

// OverlaySites upserts every seeded website by name and saves its config as
// a new version only when it differs from the active one.
func OverlaySites(ctx context.Context, db *sql.DB, res *resolver.Resolver, sf SitesFile, log *slog.Logger) (SeedReport, error) {
	var rep SeedReport
	if log == nil {
		log = slog.Default()
	}
	for i, s := range sf.Websites {
		site, created, err := upsertSite(ctx, db, s)
		if err != nil {
			return rep, fmt.Errorf("websites[%d] %q: %w", i, s.Name, err)
		}
		if created {
			rep.Created++
		} else {
			rep.Updated++
		}
		if s.Config == nil {
			continue
		}
		cfg := *s.Config
		cfg.WebsiteID = site.ID
		_, changed, err := res.SaveIfChanged(ctx, cfg)
		if err != nil {
			return rep, fmt.Errorf("websites[%d] %q config: %w", i, s.Name, err)
		}
		if changed {
			rep.ConfigsChanged++
			log.Info("sites: scraper config saved", "website", site.Name, "type", cfg.Type)
		}
	}
	return rep, nil
}

func upsertSite(ctx context.Context, db *sql.DB, s SiteSeed) (domain.Website, bool, error) {
	now := time.Now()
	cur, err := store.GetWebsiteByName(ctx, db, s.Name)
	if errors.Is(err, domain.ErrNotFound) {
		w := domain.Website{
			Name:        s.Name,
			BaseURL:     s.BaseURL,
			Currency:    s.Currency,
			IsActive:    true,
			RateLimitMS: domain.DefaultRateLimitMS,
		}
		if s.IsActive != nil {
			w.IsActive = *s.IsActive
		}
		if s.RateLimitMS != nil {
			w.RateLimitMS = *s.RateLimitMS
		}
		if s.Config != nil {
			w.ScraperType = s.Config.Type
		}
		w, err = store.CreateWebsite(ctx, db, w, now)
		return w, true, err
	}
	if err != nil {
		return domain.Website{}, false, err
	}

	p := store.WebsitePatch{BaseURL: &s.BaseURL, IsActive: s.IsActive, RateLimitMS: s.RateLimitMS}
	if s.Currency != "" {
		p.Currency = &s.Currency
	}
	w, err := store.UpdateWebsite(ctx, db, cur.ID, p, now)
	return w, false, err
}
