package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pricewatch-engine/internal/domain"
)

const productCols = `id, website_id, external_id, name, brand, product_url, image_url, currency,
  current_price, original_price, in_stock, is_stale, missed_runs, first_seen_at, last_seen_at`

func nullPrice(p *domain.Price) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func parseNullPrice(n sql.NullInt64) *domain.Price {
	if !n.Valid {
		return nil
	}
	p := domain.Price(n.Int64)
	return &p
}

func scanProduct(sc interface{ Scan(...any) error }) (domain.Product, error) {
	var (
		p              domain.Product
		orig           sql.NullInt64
		inStock, stale int
		first, last    string
	)
	if err := sc.Scan(&p.ID, &p.WebsiteID, &p.ExternalID, &p.Name, &p.Brand, &p.URL, &p.ImageURL, &p.Currency,
		&p.CurrentPrice, &orig, &inStock, &stale, &p.MissedRuns, &first, &last); err != nil {
		return domain.Product{}, err
	}
	p.OriginalPrice = parseNullPrice(orig)
	p.InStock = inStock == 1
	p.IsStale = stale == 1
	p.FirstSeenAt = parseTS(first)
	p.LastSeenAt = parseTS(last)
	return p, nil
}

func GetProduct(ctx context.Context, db Querier, id int64) (domain.Product, error) {
	p, err := scanProduct(db.QueryRowContext(ctx, `SELECT `+productCols+` FROM products WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, domain.ErrNotFound)
	}
	return p, err
}

// GetProductByKey looks a product up by its (website, external id) identity.
func GetProductByKey(ctx context.Context, db Querier, websiteID int64, externalID string) (domain.Product, error) {
	p, err := scanProduct(db.QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE website_id = ? AND external_id = ?;`,
		websiteID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %d/%s: %w", websiteID, externalID, domain.ErrNotFound)
	}
	return p, err
}

func InsertProduct(ctx context.Context, db Querier, p domain.Product) (int64, error) {
	res, err := db.ExecContext(ctx, `
INSERT INTO products (website_id, external_id, name, brand, product_url, image_url, currency,
  current_price, original_price, in_stock, is_stale, missed_runs, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?);`,
		p.WebsiteID, p.ExternalID, p.Name, p.Brand, p.URL, p.ImageURL, p.Currency,
		int64(p.CurrentPrice), nullPrice(p.OriginalPrice), boolInt(p.InStock),
		formatTS(p.FirstSeenAt), formatTS(p.LastSeenAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("product %d/%s: %w", p.WebsiteID, p.ExternalID, domain.ErrConflict)
		}
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return res.LastInsertId()
}

// UpdateProduct overwrites the mutable attributes of p and clears staleness.
func UpdateProduct(ctx context.Context, db Querier, p domain.Product) error {
	_, err := db.ExecContext(ctx, `
UPDATE products
SET name = ?, brand = ?, product_url = ?, image_url = ?, currency = ?,
    current_price = ?, original_price = ?, in_stock = ?,
    is_stale = 0, missed_runs = 0, last_seen_at = ?
WHERE id = ?;`,
		p.Name, p.Brand, p.URL, p.ImageURL, p.Currency,
		int64(p.CurrentPrice), nullPrice(p.OriginalPrice), boolInt(p.InStock),
		formatTS(p.LastSeenAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	return nil
}

// MarkMissed bumps missed_runs on every product of the website not seen since
// runStart, flagging those at or past staleAfter as stale. Returns the number
// of products that became stale.
func MarkMissed(ctx context.Context, db *sql.DB, websiteID int64, runStart time.Time, staleAfter int) (int, error) {
	if staleAfter <= 0 {
		staleAfter = 1
	}
	var newlyStale int
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE products SET missed_runs = missed_runs + 1
WHERE website_id = ? AND last_seen_at < ?;`, websiteID, formatTS(runStart)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE products SET is_stale = 1
WHERE website_id = ? AND is_stale = 0 AND missed_runs >= ?;`, websiteID, staleAfter)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		newlyStale = int(n)
		return err
	})
	return newlyStale, err
}
