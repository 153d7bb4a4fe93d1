package store

import (
	"context"
	"database/sql"
	"strings"

	"pricewatch-engine/internal/domain"
)

// CandidateFilter narrows the rows the search engine scores.
type CandidateFilter struct {
	WebsiteIDs   []int64
	Brand        string
	InStockOnly  bool
	MinPrice     *domain.Price
	MaxPrice     *domain.Price
	IncludeStale bool
}

// SearchCandidates returns every product/website row passing f, unscored.
func SearchCandidates(ctx context.Context, db Querier, f CandidateFilter) ([]domain.SearchResult, error) {
	conds := []string{"w.is_active = 1"}
	var args []any
	if !f.IncludeStale {
		conds = append(conds, "p.is_stale = 0")
	}
	if len(f.WebsiteIDs) > 0 {
		conds = append(conds, "p.website_id IN (?"+strings.Repeat(", ?", len(f.WebsiteIDs)-1)+")")
		for _, id := range f.WebsiteIDs {
			args = append(args, id)
		}
	}
	if b := strings.TrimSpace(f.Brand); b != "" {
		conds = append(conds, "p.brand = ? COLLATE NOCASE")
		args = append(args, b)
	}
	if f.InStockOnly {
		conds = append(conds, "p.in_stock = 1")
	}
	if f.MinPrice != nil {
		conds = append(conds, "p.current_price >= ?")
		args = append(args, int64(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		conds = append(conds, "p.current_price <= ?")
		args = append(args, int64(*f.MaxPrice))
	}

	rows, err := db.QueryContext(ctx, `
SELECT p.id, p.name, p.brand, w.id, w.name, p.product_url, p.image_url,
       p.current_price, p.original_price, p.currency, p.in_stock
FROM products p
JOIN websites w ON w.id = p.website_id
WHERE `+strings.Join(conds, " AND ")+`
ORDER BY p.id;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SearchResult
	for rows.Next() {
		var (
			r       domain.SearchResult
			orig    sql.NullInt64
			inStock int
		)
		if err := rows.Scan(&r.ProductID, &r.ProductName, &r.Brand, &r.WebsiteID, &r.Website, &r.ProductURL,
			&r.ImageURL, &r.Price, &orig, &r.Currency, &inStock); err != nil {
			return nil, err
		}
		r.OriginalPrice = parseNullPrice(orig)
		r.InStock = inStock == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProductNames returns distinct non-stale product names with how many
// listings carry each.
func ProductNames(ctx context.Context, db Querier) ([]domain.Suggestion, error) {
	rows, err := db.QueryContext(ctx, `
SELECT p.name, COUNT(*)
FROM products p
JOIN websites w ON w.id = p.website_id
WHERE p.is_stale = 0 AND w.is_active = 1
GROUP BY p.name
ORDER BY p.name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Suggestion
	for rows.Next() {
		var s domain.Suggestion
		if err := rows.Scan(&s.Name, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
