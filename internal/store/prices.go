package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"pricewatch-engine/internal/domain"
)

func scanPricePoint(sc interface{ Scan(...any) error }) (domain.PricePoint, error) {
	var (
		pp   domain.PricePoint
		orig sql.NullInt64
		at   string
	)
	if err := sc.Scan(&pp.ID, &pp.ProductID, &pp.Price, &orig, &pp.Currency, &at); err != nil {
		return domain.PricePoint{}, err
	}
	pp.OriginalPrice = parseNullPrice(orig)
	pp.RecordedAt = parseTS(at)
	return pp, nil
}

// LatestPricePoint returns the most recent point for a product, or ErrNotFound.
func LatestPricePoint(ctx context.Context, db Querier, productID int64) (domain.PricePoint, error) {
	pp, err := scanPricePoint(db.QueryRowContext(ctx, `
SELECT id, product_id, price, original_price, currency, recorded_at
FROM price_points
WHERE product_id = ?
ORDER BY recorded_at DESC, id DESC
LIMIT 1;`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PricePoint{}, fmt.Errorf("price point for product %d: %w", productID, domain.ErrNotFound)
	}
	return pp, err
}

// AppendPricePoint writes pp. recorded_at is kept strictly increasing per
// product: a timestamp not after the latest point is moved 1ns past it.
func AppendPricePoint(ctx context.Context, db Querier, pp domain.PricePoint, runID string) (domain.PricePoint, error) {
	var last sql.NullString
	if err := db.QueryRowContext(ctx,
		`SELECT MAX(recorded_at) FROM price_points WHERE product_id = ?;`, pp.ProductID,
	).Scan(&last); err != nil {
		return domain.PricePoint{}, err
	}
	if lt := parseNullTS(last); lt != nil && !pp.RecordedAt.After(*lt) {
		pp.RecordedAt = lt.Add(time.Nanosecond)
	}

	res, err := db.ExecContext(ctx, `
INSERT INTO price_points (product_id, price, original_price, currency, recorded_at, run_id)
VALUES (?, ?, ?, ?, ?, ?);`,
		pp.ProductID, int64(pp.Price), nullPrice(pp.OriginalPrice), pp.Currency, formatTS(pp.RecordedAt), runID,
	)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("insert price point: %w", err)
	}
	pp.ID, err = res.LastInsertId()
	return pp, err
}

// PriceHistory returns up to limit points recorded in the last days days,
// newest first, with min/max/avg over the returned points.
func PriceHistory(ctx context.Context, db Querier, productID int64, days, limit int, now time.Time) (domain.PriceHistory, error) {
	p, err := GetProduct(ctx, db, productID)
	if err != nil {
		return domain.PriceHistory{}, err
	}
	if days <= 0 {
		days = 30
	}
	if limit <= 0 {
		limit = 100
	}
	since := now.AddDate(0, 0, -days)

	rows, err := db.QueryContext(ctx, `
SELECT id, product_id, price, original_price, currency, recorded_at
FROM price_points
WHERE product_id = ? AND recorded_at >= ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?;`, productID, formatTS(since), limit)
	if err != nil {
		return domain.PriceHistory{}, err
	}
	defer rows.Close()

	h := domain.PriceHistory{Product: p, Points: []domain.PricePoint{}}
	for rows.Next() {
		pp, err := scanPricePoint(rows)
		if err != nil {
			return domain.PriceHistory{}, err
		}
		h.Points = append(h.Points, pp)
	}
	if err := rows.Err(); err != nil {
		return domain.PriceHistory{}, err
	}

	if len(h.Points) > 0 {
		st := &domain.PriceStats{Min: h.Points[0].Price, Max: h.Points[0].Price, Current: p.CurrentPrice, Points: len(h.Points)}
		var sum int64
		for _, pp := range h.Points {
			st.Min = min(st.Min, pp.Price)
			st.Max = max(st.Max, pp.Price)
			sum += int64(pp.Price)
		}
		st.Avg = domain.Price(math.Round(float64(sum) / float64(len(h.Points))))
		h.Stats = st
	}
	return h, nil
}

// DropQuery selects the price-drops report.
type DropQuery struct {
	Since         time.Time
	MinPercentage float64
	WebsiteID     int64
	Limit         int
}

// PriceDrops compares, per product, the two most recent points recorded since
// q.Since and reports those where the latest is lower by at least
// q.MinPercentage percent, largest drop first.
func PriceDrops(ctx context.Context, db Querier, q DropQuery) ([]domain.PriceDrop, error) {
	args := []any{formatTS(q.Since)}
	where := ""
	if q.WebsiteID > 0 {
		where = ` AND p.website_id = ?`
		args = append(args, q.WebsiteID)
	}

	rows, err := db.QueryContext(ctx, `
WITH ranked AS (
  SELECT product_id, price, recorded_at,
         ROW_NUMBER() OVER (PARTITION BY product_id ORDER BY recorded_at DESC, id DESC) AS rn
  FROM price_points
  WHERE recorded_at >= ?
)
SELECT p.id, p.name, p.brand, w.id, w.name, p.product_url, p.currency,
       cur.price, prev.price, cur.recorded_at
FROM ranked cur
JOIN ranked prev ON prev.product_id = cur.product_id AND prev.rn = 2
JOIN products p ON p.id = cur.product_id
JOIN websites w ON w.id = p.website_id
WHERE cur.rn = 1 AND cur.price < prev.price`+where+`;`, args...)
	if err != nil {
		return nil, fmt.Errorf("price drops: %w", err)
	}
	defer rows.Close()

	out := []domain.PriceDrop{}
	for rows.Next() {
		var (
			d  domain.PriceDrop
			at string
		)
		if err := rows.Scan(&d.ProductID, &d.ProductName, &d.Brand, &d.WebsiteID, &d.Website, &d.ProductURL,
			&d.Currency, &d.CurrentPrice, &d.PreviousPrice, &at); err != nil {
			return nil, err
		}
		d.RecordedAt = parseTS(at)
		d.DropAmount = d.PreviousPrice - d.CurrentPrice
		d.DropPercentage = DropPercentage(d.PreviousPrice, d.CurrentPrice)
		if d.DropPercentage < q.MinPercentage {
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DropPercentage != out[j].DropPercentage {
			return out[i].DropPercentage > out[j].DropPercentage
		}
		return out[i].ProductID < out[j].ProductID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// DropPercentage is (previous-current)/previous*100 rounded to 2 decimals.
func DropPercentage(previous, current domain.Price) float64 {
	if previous <= 0 {
		return 0
	}
	pct := float64(previous-current) / float64(previous) * 100
	return math.Round(pct*100) / 100
}
