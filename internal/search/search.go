// Package search ranks catalog listings across websites by lexical
// similarity to a free-text query.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/rank"
	"pricewatch-engine/internal/store"
)

const (
	DefaultMinScore = 0.3
	DefaultLimit    = 20
	MaxLimit        = 100

	suggestMinScore = 0.5
)

type Query struct {
	Text        string        `json:"query"`
	WebsiteIDs  []int64       `json:"website_ids,omitempty"`
	Brand       string        `json:"brand,omitempty"`
	InStockOnly bool          `json:"in_stock_only,omitempty"`
	MinPrice    *domain.Price `json:"min_price,omitempty"`
	MaxPrice    *domain.Price `json:"max_price,omitempty"`
	MinScore    *float64      `json:"min_score,omitempty"`
	Limit       int           `json:"limit,omitempty"`
	Page        int           `json:"page,omitempty"`
}

type Response struct {
	Query            string                `json:"query"`
	Results          []domain.SearchResult `json:"results"`
	TotalResults     int                   `json:"total_results"`
	WebsitesSearched int                   `json:"websites_searched"`
	SearchTimeMS     float64               `json:"search_time_ms"`
}

type Engine struct {
	db     *sql.DB
	scorer rank.Scorer
	log    *slog.Logger

	MinScore float64
	Workers  int
}

func New(db *sql.DB, scorer rank.Scorer, log *slog.Logger) *Engine {
	if scorer == nil {
		scorer = rank.DefaultLexical()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{db: db, scorer: scorer, log: log, MinScore: DefaultMinScore, Workers: runtime.GOMAXPROCS(0)}
}

func (q *Query) normalize(defMin float64) error {
	q.Text = strings.TrimSpace(q.Text)
	if n := len([]rune(q.Text)); n < 2 || n > 200 {
		return fmt.Errorf("query must be 2 to 200 characters: %w", domain.ErrInvalid)
	}
	if q.MinScore == nil {
		q.MinScore = &defMin
	}
	if *q.MinScore < 0 || *q.MinScore > 1 {
		return fmt.Errorf("min_score must be within [0, 1]: %w", domain.ErrInvalid)
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return fmt.Errorf("min_price is above max_price: %w", domain.ErrInvalid)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return nil
}

// Search scores every candidate listing, keeps those at or above the minimum
// score and returns the requested page, best match first and cheapest first
// among equal scores. The same product sold by two websites is two results.
func (e *Engine) Search(ctx context.Context, q Query) (Response, error) {
	start := time.Now()
	if err := q.normalize(e.MinScore); err != nil {
		return Response{}, err
	}

	cands, err := store.SearchCandidates(ctx, e.db, store.CandidateFilter{
		WebsiteIDs:  q.WebsiteIDs,
		Brand:       q.Brand,
		InStockOnly: q.InStockOnly,
		MinPrice:    q.MinPrice,
		MaxPrice:    q.MaxPrice,
	})
	if err != nil {
		return Response{}, fmt.Errorf("search candidates: %w", err)
	}

	if err := e.score(ctx, q.Text, cands); err != nil {
		return Response{}, err
	}

	kept := cands[:0]
	for _, c := range cands {
		if c.MatchScore >= *q.MinScore {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.ProductID < b.ProductID
	})

	sites := map[int64]struct{}{}
	for _, c := range kept {
		sites[c.WebsiteID] = struct{}{}
	}

	from := (q.Page - 1) * q.Limit
	to := min(from+q.Limit, len(kept))
	page := []domain.SearchResult{}
	if from < len(kept) {
		page = append(page, kept[from:to]...)
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	e.log.Debug("search", "query", q.Text, "candidates", len(cands), "matches", len(kept), "ms", elapsed)
	return Response{
		Query:            q.Text,
		Results:          page,
		TotalResults:     len(kept),
		WebsitesSearched: len(sites),
		SearchTimeMS:     math.Round(elapsed*100) / 100,
	}, nil
}

// score fills MatchScore in place, splitting the candidates across workers.
func (e *Engine) score(ctx context.Context, query string, cands []domain.SearchResult) error {
	workers := max(e.Workers, 1)
	chunk := (len(cands) + workers - 1) / workers
	if chunk < 64 {
		chunk = 64
	}
	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(cands); lo += chunk {
		part := cands[lo:min(lo+chunk, len(cands))]
		g.Go(func() error {
			for i := range part {
				if i%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				c := &part[i]
				c.MatchScore = e.scorer.Score(query, rank.Text(c.Brand, c.ProductName))
			}
			return nil
		})
	}
	return g.Wait()
}

// Suggest returns distinct product names similar to a partial query, best
// first.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]domain.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if len([]rune(prefix)) < 2 {
		return nil, fmt.Errorf("query must be at least 2 characters: %w", domain.ErrInvalid)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	names, err := store.ProductNames(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("product names: %w", err)
	}

	folded := strings.Join(rank.Tokens(prefix), " ")
	out := []domain.Suggestion{}
	for _, n := range names {
		n.Score = e.scorer.Score(prefix, n.Name)
		if n.Score < suggestMinScore && !strings.Contains(strings.Join(rank.Tokens(n.Name), " "), folded) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
