package httpapi

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"pricewatch-engine/internal/config"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/search"
	"pricewatch-engine/internal/store"
)

// CatalogHandler serves the read side: price history, search and drops.
type CatalogHandler struct {
	DB     *sql.DB
	Search *search.Engine
	CfgVal *atomic.Value // stores config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func (h CatalogHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if days < 1 || days > 365 || limit < 1 || limit > 1000 {
		writeErr(w, r, h.Log, fmt.Errorf("days must be 1..365 and limit 1..1000: %w", domain.ErrInvalid))
		return
	}
	hist, err := store.PriceHistory(r.Context(), h.DB, id, days, limit, h.Now())
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, hist)
}

func (h CatalogHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:        r.URL.Query().Get("q"),
		Brand:       strings.TrimSpace(r.URL.Query().Get("brand")),
		InStockOnly: queryBool(r, "in_stock_only"),
	}
	var err error
	if q.WebsiteIDs, err = queryIDs(r, "website_ids"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if q.MinPrice, err = queryPrice(r, "min_price"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if q.MaxPrice, err = queryPrice(r, "max_price"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if q.MinScore, err = queryFloat(r, "min_score"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit", search.DefaultLimit); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if q.Page, err = queryInt(r, "page", 1); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	res, err := h.Search.Search(r.Context(), q)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, res)
}

func (h CatalogHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	out, err := h.Search.Suggest(r.Context(), q, limit)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, suggestionsResponse{Query: strings.TrimSpace(q), Suggestions: out})
}

// Drops reports products whose latest price within the window is lower than
// the one before it. Defaults come from the drops section of the config.
func (h CatalogHandler) Drops(w http.ResponseWriter, r *http.Request) {
	cfg := h.CfgVal.Load().(config.Config)

	window, err := queryInt(r, "window_hours", cfg.Drops.WindowHours)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	limit, err := queryInt(r, "limit", cfg.Drops.Limit)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	minPct := cfg.Drops.MinPercentage
	if p, err := queryFloat(r, "min_percentage"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	} else if p != nil {
		minPct = *p
	}
	websiteID, err := int64Query(r, "website_id")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if window < 1 || window > 24*90 || limit < 1 || limit > 500 || minPct < 0 || minPct >= 100 {
		writeErr(w, r, h.Log, fmt.Errorf("window_hours must be 1..2160, limit 1..500, min_percentage 0..100: %w", domain.ErrInvalid))
		return
	}

	drops, err := store.PriceDrops(r.Context(), h.DB, store.DropQuery{
		Since:         h.Now().Add(-time.Duration(window) * time.Hour),
		MinPercentage: minPct,
		WebsiteID:     websiteID,
		Limit:         limit,
	})
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, dropsResponse{WindowHours: window, MinPercentage: minPct, Count: len(drops), Drops: drops})
}
