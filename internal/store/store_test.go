package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
)

func tempDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	return d.Pool
}

func mustWebsite(t *testing.T, db *sql.DB, name string) domain.Website {
	t.Helper()
	w, err := CreateWebsite(context.Background(), db, domain.Website{
		Name:        name,
		BaseURL:     "https://" + name + ".example",
		IsActive:    true,
		RateLimitMS: 1000,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := tempDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("user_version = %d, want 1", v)
	}
}

func TestWebsiteCRUD(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)

	w := mustWebsite(t, db, "shopa")
	if w.Currency != domain.DefaultCurrency || w.ScraperType != domain.ConfigListing {
		t.Errorf("defaults not applied: %+v", w)
	}

	// duplicate name
	_, err := CreateWebsite(ctx, db, domain.Website{Name: "shopa", BaseURL: "https://x.example"}, time.Now())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate: err = %v, want ErrConflict", err)
	}

	rl := 250
	got, err := UpdateWebsite(ctx, db, w.ID, WebsitePatch{RateLimitMS: &rl}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.RateLimitMS != 250 || got.Name != "shopa" {
		t.Errorf("update: %+v", got)
	}

	// referenced by a product: delete refused
	now := time.Now()
	if _, err := InsertProduct(ctx, db, domain.Product{
		WebsiteID: w.ID, ExternalID: "a1", Name: "Serum", Currency: "TND",
		CurrentPrice: 1000, InStock: true, FirstSeenAt: now, LastSeenAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := DeleteWebsite(ctx, db, w.ID); !errors.Is(err, ErrWebsiteInUse) {
		t.Fatalf("delete: err = %v, want ErrWebsiteInUse", err)
	}
	if got, _ := GetWebsite(ctx, db, w.ID); got.TotalProducts != 1 {
		t.Errorf("total_products = %d, want 1", got.TotalProducts)
	}

	empty := mustWebsite(t, db, "shopb")
	if err := DeleteWebsite(ctx, db, empty.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := GetWebsite(ctx, db, empty.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSaveConfigVersionsAndSingleActive(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	w := mustWebsite(t, db, "shopa")

	listing := domain.ScraperConfig{
		WebsiteID: w.ID,
		Type:      domain.ConfigListing,
		Selectors: domain.Selectors{Item: ".card", Name: ".title", Price: ".price"},
		Listing:   &domain.ListingConfig{Pagination: domain.Pagination{Type: domain.PaginateNone}},
	}
	c1, err := SaveConfig(ctx, db, listing, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	sitemap := domain.ScraperConfig{
		WebsiteID: w.ID,
		Type:      domain.ConfigSitemap,
		Selectors: domain.Selectors{Name: "h1", Price: ".price"},
		Sitemap:   &domain.SitemapConfig{SitemapURL: "https://shopa.example/sitemap.xml", UseLastmod: true},
	}
	c2, err := SaveConfig(ctx, db, sitemap, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if c1.Version != 1 || c2.Version != 2 {
		t.Fatalf("versions = %d, %d; want 1, 2", c1.Version, c2.Version)
	}

	active, err := ActiveConfig(ctx, db, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != c2.ID || active.Type != domain.ConfigSitemap || active.Sitemap == nil || !active.Sitemap.UseLastmod {
		t.Errorf("active = %+v", active)
	}

	all, err := ListConfigs(ctx, db, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	activeCount := 0
	for _, c := range all {
		if c.IsActive {
			activeCount++
		}
	}
	if len(all) != 2 || activeCount != 1 {
		t.Errorf("history len=%d active=%d; want 2, 1", len(all), activeCount)
	}

	if got, _ := GetWebsite(ctx, db, w.ID); got.ScraperType != domain.ConfigSitemap {
		t.Errorf("website scraper_type = %q, want sitemap", got.ScraperType)
	}
}

func TestAppendPricePointStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	w := mustWebsite(t, db, "shopa")

	at := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	id, err := InsertProduct(ctx, db, domain.Product{
		WebsiteID: w.ID, ExternalID: "p1", Name: "Serum", Currency: "TND",
		CurrentPrice: 45900, FirstSeenAt: at, LastSeenAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := AppendPricePoint(ctx, db, domain.PricePoint{ProductID: id, Price: 45900, Currency: "TND", RecordedAt: at}, "r1")
	if err != nil {
		t.Fatal(err)
	}
	// same instant: must still sort after the first point
	second, err := AppendPricePoint(ctx, db, domain.PricePoint{ProductID: id, Price: 39900, Currency: "TND", RecordedAt: at}, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if !second.RecordedAt.After(first.RecordedAt) {
		t.Fatalf("recorded_at not increasing: %v then %v", first.RecordedAt, second.RecordedAt)
	}

	latest, err := LatestPricePoint(ctx, db, id)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Price != 39900 {
		t.Errorf("latest = %v, want 39.900", latest.Price)
	}
}

func TestPriceDrops(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	w := mustWebsite(t, db, "shopa")
	now := time.Now().UTC()

	add := func(ext string, prices ...domain.Price) int64 {
		t.Helper()
		id, err := InsertProduct(ctx, db, domain.Product{
			WebsiteID: w.ID, ExternalID: ext, Name: "Product " + ext, Currency: "TND",
			CurrentPrice: prices[len(prices)-1], FirstSeenAt: now, LastSeenAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, p := range prices {
			at := now.Add(-time.Duration(len(prices)-i) * time.Hour)
			if _, err := AppendPricePoint(ctx, db, domain.PricePoint{ProductID: id, Price: p, Currency: "TND", RecordedAt: at}, ""); err != nil {
				t.Fatal(err)
			}
		}
		return id
	}

	dropped := add("a", 45900, 39900)
	add("b", 10000, 11000)         // increase
	add("c", 10000, 9800)          // 2% drop, under threshold
	bigger := add("d", 2000, 1000) // 50%

	drops, err := PriceDrops(ctx, db, DropQuery{Since: now.Add(-24 * time.Hour), MinPercentage: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(drops) != 2 {
		t.Fatalf("got %d drops, want 2: %+v", len(drops), drops)
	}
	if drops[0].ProductID != bigger || drops[1].ProductID != dropped {
		t.Errorf("order = %d, %d; want %d, %d", drops[0].ProductID, drops[1].ProductID, bigger, dropped)
	}
	d := drops[1]
	if d.DropAmount != 6000 {
		t.Errorf("drop_amount = %v, want 6.000", d.DropAmount)
	}
	if math.Abs(d.DropPercentage-13.07) > 0.01 {
		t.Errorf("drop_percentage = %v, want ~13.07", d.DropPercentage)
	}
}

func TestRunLifecycleAndConflict(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	w := mustWebsite(t, db, "shopa")
	now := time.Now()

	r := domain.CrawlRun{ID: "run-1", WebsiteID: w.ID, Status: domain.RunQueued, TriggeredBy: "manual", StartedAt: now}
	if err := CreateRun(ctx, db, r); err != nil {
		t.Fatal(err)
	}
	err := CreateRun(ctx, db, domain.CrawlRun{ID: "run-2", WebsiteID: w.ID, Status: domain.RunQueued, StartedAt: now})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second active run: err = %v, want ErrConflict", err)
	}

	r.Status = domain.RunRunning
	r.PagesScraped = 2
	r.Errors = []domain.RunError{{Kind: domain.KindFetch, Message: "timeout", URL: "https://shopa.example/p2", At: now}}
	r.Cursor = []byte(`{"page":3}`)
	r.Finish(domain.RunStopped, now.Add(3*time.Second))
	if err := UpdateRun(ctx, db, r); err != nil {
		t.Fatal(err)
	}

	got, err := GetRun(ctx, db, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunStopped || got.PagesScraped != 2 || len(got.Errors) != 1 || string(got.Cursor) != `{"page":3}` {
		t.Errorf("run = %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds < 2.9 {
		t.Errorf("duration = %v", got.DurationSeconds)
	}

	// terminal now, so a new run is allowed
	if err := CreateRun(ctx, db, domain.CrawlRun{ID: "run-2", WebsiteID: w.ID, Status: domain.RunRunning, StartedAt: now.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	n, err := FailInterrupted(ctx, db, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("interrupted = %d, want 1", n)
	}

	runs, total, err := ListRuns(ctx, db, RunFilter{WebsiteID: w.ID, Status: domain.RunFailed})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(runs) != 1 || runs[0].ID != "run-2" {
		t.Errorf("failed runs = %d (%+v)", total, runs)
	}

	pruned, err := PruneRuns(ctx, db, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
}

func TestMarkMissedFlagsStale(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	w := mustWebsite(t, db, "shopa")
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := InsertProduct(ctx, db, domain.Product{
		WebsiteID: w.ID, ExternalID: "gone", Name: "Gone", Currency: "TND",
		CurrentPrice: 1000, FirstSeenAt: seen, LastSeenAt: seen,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		n, err := MarkMissed(ctx, db, w.ID, seen.Add(time.Duration(i)*time.Hour), 3)
		if err != nil {
			t.Fatal(err)
		}
		if (i == 3) != (n == 1) {
			t.Errorf("run %d: newly stale = %d", i, n)
		}
	}
	p, err := GetProduct(ctx, db, id)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsStale || p.MissedRuns != 3 {
		t.Errorf("product = stale %v missed %d; want true, 3", p.IsStale, p.MissedRuns)
	}

	cands, err := SearchCandidates(ctx, db, CandidateFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("stale product returned as candidate: %+v", cands)
	}
}
