package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricewatch-engine/internal/domain"
)

var ErrWebsiteInUse = errors.New("website still has products")

const websiteCols = `
  w.id, w.name, w.base_url, w.scraper_type, w.currency, w.is_active, w.rate_limit_ms,
  w.last_scraped_at, w.created_at, w.updated_at,
  (SELECT COUNT(*) FROM products p WHERE p.website_id = w.id)`

func scanWebsite(sc interface{ Scan(...any) error }) (domain.Website, error) {
	var (
		w                domain.Website
		typ              string
		active           int
		lastScraped      sql.NullString
		created, updated string
	)
	if err := sc.Scan(&w.ID, &w.Name, &w.BaseURL, &typ, &w.Currency, &active, &w.RateLimitMS,
		&lastScraped, &created, &updated, &w.TotalProducts); err != nil {
		return domain.Website{}, err
	}
	w.ScraperType = domain.ConfigType(typ)
	w.IsActive = active == 1
	w.LastScrapedAt = parseNullTS(lastScraped)
	w.CreatedAt = parseTS(created)
	w.UpdatedAt = parseTS(updated)
	return w, nil
}

func normalizeWebsite(w *domain.Website) error {
	w.Name = strings.TrimSpace(w.Name)
	w.BaseURL = strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	w.Currency = strings.ToUpper(strings.TrimSpace(w.Currency))
	if w.Currency == "" {
		w.Currency = domain.DefaultCurrency
	}
	if w.ScraperType == "" {
		w.ScraperType = domain.ConfigListing
	}
	if w.RateLimitMS < 0 {
		w.RateLimitMS = 0
	}
	if w.Name == "" {
		return &domain.ConfigError{Field: "name", Message: "is required"}
	}
	if !strings.HasPrefix(w.BaseURL, "http://") && !strings.HasPrefix(w.BaseURL, "https://") {
		return &domain.ConfigError{Field: "base_url", Message: "must be an absolute http(s) URL"}
	}
	if w.ScraperType != domain.ConfigListing && w.ScraperType != domain.ConfigSitemap {
		return &domain.ConfigError{Field: "scraper_type", Message: `must be "listing" or "sitemap"`}
	}
	return nil
}

// CreateWebsite inserts w and returns the stored row. A duplicate name is ErrConflict.
func CreateWebsite(ctx context.Context, db Querier, w domain.Website, now time.Time) (domain.Website, error) {
	if err := normalizeWebsite(&w); err != nil {
		return domain.Website{}, err
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO websites (name, base_url, scraper_type, currency, is_active, rate_limit_ms, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		w.Name, w.BaseURL, string(w.ScraperType), w.Currency, boolInt(w.IsActive), w.RateLimitMS,
		formatTS(now), formatTS(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Website{}, fmt.Errorf("website %q: %w", w.Name, domain.ErrConflict)
		}
		return domain.Website{}, fmt.Errorf("insert website: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Website{}, err
	}
	return GetWebsite(ctx, db, id)
}

func GetWebsite(ctx context.Context, db Querier, id int64) (domain.Website, error) {
	w, err := scanWebsite(db.QueryRowContext(ctx, `SELECT `+websiteCols+` FROM websites w WHERE w.id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Website{}, fmt.Errorf("website %d: %w", id, domain.ErrNotFound)
	}
	return w, err
}

func GetWebsiteByName(ctx context.Context, db Querier, name string) (domain.Website, error) {
	w, err := scanWebsite(db.QueryRowContext(ctx, `SELECT `+websiteCols+` FROM websites w WHERE w.name = ?;`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Website{}, fmt.Errorf("website %q: %w", name, domain.ErrNotFound)
	}
	return w, err
}

func ListWebsites(ctx context.Context, db Querier, activeOnly bool) ([]domain.Website, error) {
	q := `SELECT ` + websiteCols + ` FROM websites w`
	if activeOnly {
		q += ` WHERE w.is_active = 1`
	}
	q += ` ORDER BY w.name COLLATE NOCASE;`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Website{}
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WebsitePatch carries the admin-editable fields; nil means unchanged.
type WebsitePatch struct {
	Name        *string            `json:"name"`
	BaseURL     *string            `json:"base_url"`
	ScraperType *domain.ConfigType `json:"scraper_type"`
	Currency    *string            `json:"currency"`
	IsActive    *bool              `json:"is_active"`
	RateLimitMS *int               `json:"rate_limit_ms"`
}

func UpdateWebsite(ctx context.Context, db *sql.DB, id int64, p WebsitePatch, now time.Time) (domain.Website, error) {
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		w, err := GetWebsite(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Name != nil {
			w.Name = *p.Name
		}
		if p.BaseURL != nil {
			w.BaseURL = *p.BaseURL
		}
		if p.ScraperType != nil {
			w.ScraperType = *p.ScraperType
		}
		if p.Currency != nil {
			w.Currency = *p.Currency
		}
		if p.IsActive != nil {
			w.IsActive = *p.IsActive
		}
		if p.RateLimitMS != nil {
			w.RateLimitMS = *p.RateLimitMS
		}
		if err := normalizeWebsite(&w); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE websites
SET name = ?, base_url = ?, scraper_type = ?, currency = ?, is_active = ?, rate_limit_ms = ?, updated_at = ?
WHERE id = ?;`,
			w.Name, w.BaseURL, string(w.ScraperType), w.Currency, boolInt(w.IsActive), w.RateLimitMS, formatTS(now), id,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("website %q: %w", w.Name, domain.ErrConflict)
		}
		return err
	})
	if err != nil {
		return domain.Website{}, err
	}
	return GetWebsite(ctx, db, id)
}

// DeleteWebsite removes a website with its configs and run log. Websites
// still referenced by products cannot be deleted.
func DeleteWebsite(ctx context.Context, db *sql.DB, id int64) error {
	return WithTx(ctx, db, func(tx *sql.Tx) error {
		w, err := GetWebsite(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.TotalProducts > 0 {
			return fmt.Errorf("website %d (%d products): %w", id, w.TotalProducts, ErrWebsiteInUse)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM websites WHERE id = ?;`, id)
		return err
	})
}

// SetLastScraped records the start time of the website's last successful run.
func SetLastScraped(ctx context.Context, db Querier, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE websites SET last_scraped_at = ? WHERE id = ?;`, formatTS(at), id)
	return err
}
