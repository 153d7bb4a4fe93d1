package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricewatch-engine/internal/domain"
)

const configCols = `id, website_id, config_type, selectors, listing_config, sitemap_config,
  schema_version, version, is_active, created_at`

func scanConfig(sc interface{ Scan(...any) error }) (domain.ScraperConfig, error) {
	var (
		c                 domain.ScraperConfig
		typ, sel, created string
		listing, sitemap  sql.NullString
		active            int
	)
	if err := sc.Scan(&c.ID, &c.WebsiteID, &typ, &sel, &listing, &sitemap,
		&c.SchemaVersion, &c.Version, &active, &created); err != nil {
		return domain.ScraperConfig{}, err
	}
	c.Type = domain.ConfigType(typ)
	c.IsActive = active == 1
	c.CreatedAt = parseTS(created)
	if err := json.Unmarshal([]byte(sel), &c.Selectors); err != nil {
		return domain.ScraperConfig{}, fmt.Errorf("config %d selectors: %w", c.ID, err)
	}
	if listing.Valid && listing.String != "" {
		c.Listing = &domain.ListingConfig{}
		if err := json.Unmarshal([]byte(listing.String), c.Listing); err != nil {
			return domain.ScraperConfig{}, fmt.Errorf("config %d listing_config: %w", c.ID, err)
		}
	}
	if sitemap.Valid && sitemap.String != "" {
		c.Sitemap = &domain.SitemapConfig{}
		if err := json.Unmarshal([]byte(sitemap.String), c.Sitemap); err != nil {
			return domain.ScraperConfig{}, fmt.Errorf("config %d sitemap_config: %w", c.ID, err)
		}
	}
	return c, nil
}

func nullJSON(v any) (any, error) {
	switch t := v.(type) {
	case *domain.ListingConfig:
		if t == nil {
			return nil, nil
		}
	case *domain.SitemapConfig:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// SaveConfig stores c as the next version for its website and makes it the
// only active config. The previous active row is deactivated in the same
// transaction, so versions never go backward and at most one row is active.
func SaveConfig(ctx context.Context, db *sql.DB, c domain.ScraperConfig, now time.Time) (domain.ScraperConfig, error) {
	sel, err := json.Marshal(c.Selectors)
	if err != nil {
		return domain.ScraperConfig{}, err
	}
	listing, err := nullJSON(c.Listing)
	if err != nil {
		return domain.ScraperConfig{}, err
	}
	sitemap, err := nullJSON(c.Sitemap)
	if err != nil {
		return domain.ScraperConfig{}, err
	}

	var id int64
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := GetWebsite(ctx, tx, c.WebsiteID); err != nil {
			return err
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM scraper_configs WHERE website_id = ?;`,
			c.WebsiteID,
		).Scan(&next); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE scraper_configs SET is_active = 0 WHERE website_id = ? AND is_active = 1;`,
			c.WebsiteID,
		); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO scraper_configs (website_id, config_type, selectors, listing_config, sitemap_config,
  schema_version, version, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?);`,
			c.WebsiteID, string(c.Type), string(sel), listing, sitemap,
			c.SchemaVersion, next, formatTS(now),
		)
		if err != nil {
			return fmt.Errorf("insert config: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		// keep the website's strategy tag in step with its active config
		_, err = tx.ExecContext(ctx,
			`UPDATE websites SET scraper_type = ?, updated_at = ? WHERE id = ?;`,
			string(c.Type), formatTS(now), c.WebsiteID,
		)
		return err
	})
	if err != nil {
		return domain.ScraperConfig{}, err
	}
	return GetConfig(ctx, db, id)
}

func GetConfig(ctx context.Context, db Querier, id int64) (domain.ScraperConfig, error) {
	c, err := scanConfig(db.QueryRowContext(ctx, `SELECT `+configCols+` FROM scraper_configs WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScraperConfig{}, fmt.Errorf("config %d: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// ActiveConfig returns the single active config for a website.
func ActiveConfig(ctx context.Context, db Querier, websiteID int64) (domain.ScraperConfig, error) {
	c, err := scanConfig(db.QueryRowContext(ctx, `
SELECT `+configCols+` FROM scraper_configs
WHERE website_id = ? AND is_active = 1
ORDER BY version DESC LIMIT 1;`, websiteID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScraperConfig{}, fmt.Errorf("active config for website %d: %w", websiteID, domain.ErrNotFound)
	}
	return c, err
}

// ListConfigs returns a website's config history, newest version first.
func ListConfigs(ctx context.Context, db Querier, websiteID int64) ([]domain.ScraperConfig, error) {
	rows, err := db.QueryContext(ctx, `
SELECT `+configCols+` FROM scraper_configs
WHERE website_id = ?
ORDER BY version DESC;`, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ScraperConfig{}
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
