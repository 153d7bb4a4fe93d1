package search

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/store"
)

type catalog struct {
	db    *sql.DB
	ing   *ingest.Engine
	sites map[string]domain.Website
}

func newCatalog(t *testing.T, sites ...string) *catalog {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	c := &catalog{db: d.Pool, ing: ingest.New(d.Pool, nil), sites: map[string]domain.Website{}}
	for _, s := range sites {
		w, err := store.CreateWebsite(context.Background(), d.Pool, domain.Website{
			Name: s, BaseURL: "https://" + s + ".example", IsActive: true,
		}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		c.sites[s] = w
	}
	return c
}

func (c *catalog) add(t *testing.T, site, id, brand, name string, price domain.Price, inStock bool) {
	t.Helper()
	_, err := c.ing.Ingest(context.Background(), c.sites[site], "seed", domain.RawItem{
		ExternalID: id, Name: name, Brand: brand, Price: price, InStock: inStock,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSearchRanksBestMatchFirst(t *testing.T) {
	c := newCatalog(t, "shopa", "shopb")
	c.add(t, "shopa", "1", "ANUA", "ANUA Peach 70 Niacinamide Serum 30ml", 45900, true)
	c.add(t, "shopa", "2", "COSRX", "COSRX Advanced Snail 96 Mucin Power Essence", 39900, true)
	c.add(t, "shopb", "3", "Round Lab", "Round Lab Dokdo Toner", 52000, true)

	e := New(c.db, nil, nil)
	res, err := e.Search(context.Background(), Query{Text: "anua peach serum"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) == 0 {
		t.Fatal("no results")
	}
	top := res.Results[0]
	if top.ProductName != "ANUA Peach 70 Niacinamide Serum 30ml" || top.MatchScore < 0.8 {
		t.Fatalf("top result = %q (%.3f)", top.ProductName, top.MatchScore)
	}
	for _, r := range res.Results[1:] {
		if r.MatchScore > top.MatchScore {
			t.Errorf("%q scored %.3f above the top result", r.ProductName, r.MatchScore)
		}
	}
	if res.Query != "anua peach serum" || res.TotalResults != len(res.Results) {
		t.Errorf("response header = %+v", res)
	}
}

func TestSearchSameProductOnTwoSites(t *testing.T) {
	c := newCatalog(t, "shopa", "shopb", "shopc")
	c.add(t, "shopa", "a1", "COSRX", "COSRX Snail Mucin Essence", 42000, true)
	c.add(t, "shopb", "b1", "COSRX", "COSRX Snail Mucin Essence", 39900, true)
	c.add(t, "shopc", "c1", "Beauty", "Beauty of Joseon Relief Sun", 30000, true)

	e := New(c.db, nil, nil)
	res, err := e.Search(context.Background(), Query{Text: "cosrx snail mucin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %+v", res.Results)
	}
	// equal scores: cheapest first
	if res.Results[0].Website != "shopb" || res.Results[1].Website != "shopa" {
		t.Errorf("order = %s, %s", res.Results[0].Website, res.Results[1].Website)
	}
	if res.WebsitesSearched != 2 {
		t.Errorf("websites_searched = %d, want 2", res.WebsitesSearched)
	}
}

func TestSearchFiltersAndPaging(t *testing.T) {
	c := newCatalog(t, "shopa", "shopb")
	for i, p := range []domain.Price{10000, 20000, 30000, 40000} {
		c.add(t, "shopa", string(rune('a'+i)), "Acme", "Acme Vitamin C Serum", p, i != 3)
	}
	c.add(t, "shopb", "z", "Acme", "Acme Vitamin C Serum", 5000, true)

	e := New(c.db, nil, nil)
	ctx := context.Background()

	res, err := e.Search(ctx, Query{Text: "vitamin c serum", InStockOnly: true, Limit: 2, Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalResults != 4 || len(res.Results) != 2 {
		t.Fatalf("total = %d page = %d", res.TotalResults, len(res.Results))
	}
	if res.Results[0].Price != 20000 || res.Results[1].Price != 30000 {
		t.Errorf("page 2 prices = %v, %v", res.Results[0].Price, res.Results[1].Price)
	}

	lo, hi := domain.Price(15000), domain.Price(35000)
	res, _ = e.Search(ctx, Query{Text: "vitamin c serum", MinPrice: &lo, MaxPrice: &hi, WebsiteIDs: []int64{c.sites["shopa"].ID}})
	if res.TotalResults != 2 {
		t.Errorf("price window total = %d, want 2", res.TotalResults)
	}

	res, _ = e.Search(ctx, Query{Text: "vitamin c serum", Page: 9})
	if len(res.Results) != 0 || res.TotalResults != 5 {
		t.Errorf("page past the end = %d results of %d", len(res.Results), res.TotalResults)
	}
}

func TestSearchRejectsBadQueries(t *testing.T) {
	c := newCatalog(t)
	e := New(c.db, nil, nil)
	bad := 1.5
	lo, hi := domain.Price(2), domain.Price(1)
	for _, q := range []Query{
		{Text: " a "},
		{Text: "serum", MinScore: &bad},
		{Text: "serum", MinPrice: &lo, MaxPrice: &hi},
	} {
		if _, err := e.Search(context.Background(), q); !errors.Is(err, domain.ErrInvalid) {
			t.Errorf("Search(%+v) err = %v, want ErrInvalid", q, err)
		}
	}
}

func TestSuggest(t *testing.T) {
	c := newCatalog(t, "shopa", "shopb")
	c.add(t, "shopa", "1", "", "Snail Mucin Essence", 1000, true)
	c.add(t, "shopb", "1", "", "Snail Mucin Essence", 1200, true)
	c.add(t, "shopa", "2", "", "Snail Repair Cream", 1000, true)
	c.add(t, "shopa", "3", "", "Sunscreen SPF50", 1000, true)

	e := New(c.db, nil, nil)
	got, err := e.Suggest(context.Background(), "snail mucin", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].Name != "Snail Mucin Essence" || got[0].Count != 2 {
		t.Fatalf("suggestions = %+v", got)
	}
	for _, s := range got {
		if s.Name == "Sunscreen SPF50" {
			t.Errorf("unrelated suggestion %+v", s)
		}
	}
}
