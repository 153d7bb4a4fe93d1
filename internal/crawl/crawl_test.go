package crawl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/store"
)

const threeCards = `<html><body><div class="grid">
<div class="card"><span class="title">ANUA Peach Serum</span><span class="price">45.900 TND</span></div>
<div class="card"><span class="title">COSRX Snail Mucin</span><span class="price">39.900 TND</span></div>
<div class="card"><span class="title">Round Lab Toner</span><span class="price">52.000 TND</span></div>
</div></body></html>`

type env struct {
	db  *sql.DB
	o   *Orchestrator
	res *resolver.Resolver
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "crawl.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 5 * time.Millisecond
		cfg.RetryMax = 20 * time.Millisecond
	}
	res := resolver.New(d.Pool, nil)
	o := New(Deps{
		DB:       d.Pool,
		Fetcher:  fetch.NewHTTP(fetch.WithTimeout(2 * time.Second)),
		Resolver: res,
		Ingest:   ingest.New(d.Pool, nil),
		Events:   events.NewHub(),
	}, cfg)
	t.Cleanup(func() { o.Shutdown(context.Background()) })
	return &env{db: d.Pool, o: o, res: res}
}

func (e *env) site(t *testing.T, baseURL string, rateMS int, cfg domain.ScraperConfig) domain.Website {
	t.Helper()
	ctx := context.Background()
	w, err := store.CreateWebsite(ctx, e.db, domain.Website{
		Name: fmt.Sprintf("site-%d", time.Now().UnixNano()), BaseURL: baseURL, IsActive: true, RateLimitMS: rateMS,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	cfg.WebsiteID = w.ID
	if _, err := e.res.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	return w
}

func gridConfig() domain.ScraperConfig {
	return domain.ScraperConfig{
		Type:      domain.ConfigListing,
		Selectors: domain.Selectors{Container: ".grid", Item: ".card", Name: ".title", Price: ".price"},
	}
}

func (e *env) run(t *testing.T, websiteID int64, opts Options) domain.CrawlRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	r, err := e.o.Run(ctx, websiteID, opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestListingRunCountersAndRerun(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(threeCards))
	}))
	defer ts.Close()

	e := newEnv(t, Config{})
	w := e.site(t, ts.URL, 1000, gridConfig())

	r1 := e.run(t, w.ID, Options{})
	if r1.Status != domain.RunSuccess {
		t.Fatalf("status = %s, errors = %+v", r1.Status, r1.Errors)
	}
	if r1.ProductsFound != 3 || r1.ProductsCreated != 3 || r1.PricesRecorded != 3 || r1.PagesScraped != 1 {
		t.Errorf("first run counters = %+v", r1.RunCounters)
	}
	if r1.DurationSeconds == nil || r1.CompletedAt == nil {
		t.Error("terminal run without completion time")
	}

	r2 := e.run(t, w.ID, Options{})
	if r2.ProductsFound != 3 || r2.ProductsCreated != 0 || r2.PricesRecorded != 0 {
		t.Errorf("second run counters = %+v", r2.RunCounters)
	}

	site, _ := store.GetWebsite(context.Background(), e.db, w.ID)
	if site.LastScrapedAt == nil || !site.LastScrapedAt.Equal(r2.StartedAt) {
		t.Errorf("last_scraped_at = %v, want %v", site.LastScrapedAt, r2.StartedAt)
	}
	if site.TotalProducts != 3 {
		t.Errorf("total_products = %d", site.TotalProducts)
	}
}

func TestTriggerConflictAndStop(t *testing.T) {
	release := make(chan struct{})
	var served atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			<-release
		}
		w.Write([]byte(threeCards + `<a class="next" href="/?p=` + fmt.Sprint(served.Load()) + `">next</a>`))
	}))
	defer ts.Close()
	defer close(release)

	e := newEnv(t, Config{})
	cfg := gridConfig()
	cfg.Listing = &domain.ListingConfig{Pagination: domain.Pagination{NextSelector: "a.next"}}
	w := e.site(t, ts.URL, 0, cfg)
	ctx := context.Background()

	run, err := e.o.Trigger(ctx, w.ID, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != domain.RunQueued {
		t.Errorf("trigger status = %s, want queued", run.Status)
	}
	if _, err := e.o.Trigger(ctx, w.ID, Options{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second trigger: err = %v, want ErrConflict", err)
	}

	// wait until the run is blocked fetching page 2
	deadline := time.Now().Add(5 * time.Second)
	for served.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := e.o.Stop(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	release <- struct{}{}
	if err := e.o.Wait(ctx, w.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, e.db, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunStopped {
		t.Fatalf("status = %s, want stopped", got.Status)
	}
	// page 2 was in flight when stop arrived and is kept; nothing after it
	if got.PagesScraped != 2 || got.ProductsFound != 6 {
		t.Errorf("counters = %+v", got.RunCounters)
	}
	if len(got.Cursor) == 0 {
		t.Error("stopped run has no cursor")
	}

	if _, err := e.o.Stop(ctx, w.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("stop with nothing running: err = %v", err)
	}
}

func TestStopQueuedRun(t *testing.T) {
	block := make(chan struct{})
	hit := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		<-block
		w.Write([]byte(threeCards))
	}))
	defer ts.Close()

	e := newEnv(t, Config{Workers: 1})
	busy := e.site(t, ts.URL, 0, gridConfig())
	waiting := e.site(t, ts.URL, 0, gridConfig())
	ctx := context.Background()

	if _, err := e.o.Trigger(ctx, busy.ID, Options{}); err != nil {
		t.Fatal(err)
	}
	<-hit // the only worker slot is now taken
	queued, err := e.o.Trigger(ctx, waiting.ID, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.o.Stop(ctx, waiting.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.o.Wait(ctx, waiting.ID); err != nil {
		t.Fatal(err)
	}
	close(block)

	got, _ := store.GetRun(ctx, e.db, queued.ID)
	if got.Status != domain.RunStopped || got.PagesScraped != 0 {
		t.Errorf("queued run after stop = %+v", got)
	}
	e.o.Wait(ctx, busy.ID)
}

func TestResumeFromStoppedCursor(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	stopAt := make(chan struct{})
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("p")
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
		switch p {
		case "2":
			stopAt <- struct{}{}
			<-release
			w.Write([]byte(threeCards))
		case "1":
			w.Write([]byte(threeCards))
		default:
			w.Write([]byte(`<div class="grid"></div>`))
		}
	}))
	defer ts.Close()

	e := newEnv(t, Config{})
	cfg := gridConfig()
	cfg.Listing = &domain.ListingConfig{Pagination: domain.Pagination{Type: domain.PaginatePageParam, PageParam: "p"}}
	w := e.site(t, ts.URL, 0, cfg)
	ctx := context.Background()

	if _, err := e.o.Trigger(ctx, w.ID, Options{}); err != nil {
		t.Fatal(err)
	}
	<-stopAt
	e.o.Stop(ctx, w.ID)
	close(release)
	e.o.Wait(ctx, w.ID)

	mu.Lock()
	seen = nil
	mu.Unlock()

	r := e.run(t, w.ID, Options{Resume: true})
	if r.Status != domain.RunSuccess || r.PagesScraped != 1 {
		t.Errorf("resumed run = %s %+v", r.Status, r.RunCounters)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "3" {
		t.Errorf("resumed run fetched pages %v, want [3]", seen)
	}
}

func TestSitemapIncrementalRun(t *testing.T) {
	var fresh atomic.Value
	fresh.Store("2020-01-01")
	var productHits atomic.Int32

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/products/a</loc><lastmod>2020-01-01</lastmod></url>
<url><loc>%[1]s/products/b</loc><lastmod>%[2]s</lastmod></url>
<url><loc>%[1]s/products/c</loc><lastmod>2020-01-01</lastmod></url>
</urlset>`, ts.URL, fresh.Load())
		default:
			productHits.Add(1)
			fmt.Fprintf(w, `<h1>Product %s</h1><span class="price">10.000</span>`, r.URL.Path)
		}
	}))
	defer ts.Close()

	e := newEnv(t, Config{})
	w := e.site(t, ts.URL, 0, domain.ScraperConfig{
		Type:      domain.ConfigSitemap,
		Selectors: domain.Selectors{Name: "h1", Price: ".price"},
		Sitemap:   &domain.SitemapConfig{SitemapURL: ts.URL + "/sitemap.xml", UseLastmod: true},
	})

	r1 := e.run(t, w.ID, Options{})
	if r1.Status != domain.RunSuccess || r1.PagesScraped != 3 || r1.ProductsCreated != 3 {
		t.Fatalf("first run = %s %+v", r1.Status, r1.RunCounters)
	}

	fresh.Store(time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	productHits.Store(0)
	r2 := e.run(t, w.ID, Options{})
	if r2.Status != domain.RunSuccess || r2.PagesScraped != 1 || productHits.Load() != 1 {
		t.Errorf("incremental run pages = %d hits = %d", r2.PagesScraped, productHits.Load())
	}

	r3 := e.run(t, w.ID, Options{FullScrape: true})
	if r3.PagesScraped != 3 {
		t.Errorf("full run pages = %d, want 3", r3.PagesScraped)
	}
}

func TestRunFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(threeCards))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	e := newEnv(t, Config{FetchRetries: 3})
	ctx := context.Background()

	t.Run("transient errors are retried", func(t *testing.T) {
		cfg := gridConfig()
		cfg.Listing = &domain.ListingConfig{StartURL: ts.URL + "/flaky"}
		w := e.site(t, ts.URL, 0, cfg)
		r := e.run(t, w.ID, Options{})
		if r.Status != domain.RunSuccess || r.ProductsCreated != 3 || calls.Load() != 3 {
			t.Errorf("run = %s %+v calls=%d", r.Status, r.RunCounters, calls.Load())
		}
	})

	t.Run("every page failing fails the run", func(t *testing.T) {
		cfg := gridConfig()
		cfg.Listing = &domain.ListingConfig{StartURL: ts.URL + "/missing"}
		w := e.site(t, ts.URL, 0, cfg)
		r := e.run(t, w.ID, Options{})
		if r.Status != domain.RunFailed || len(r.Errors) < 2 {
			t.Fatalf("run = %s errors=%+v", r.Status, r.Errors)
		}
		if r.Errors[0].Kind != domain.KindFetch || r.Errors[0].Status != 404 {
			t.Errorf("first error = %+v", r.Errors[0])
		}
	})

	t.Run("missing config fails with config error", func(t *testing.T) {
		w, err := store.CreateWebsite(ctx, e.db, domain.Website{Name: "noconf", BaseURL: ts.URL, IsActive: true}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		r := e.run(t, w.ID, Options{})
		if r.Status != domain.RunFailed || len(r.Errors) != 1 || r.Errors[0].Kind != domain.KindConfig {
			t.Errorf("run = %s errors=%+v", r.Status, r.Errors)
		}
	})
}

func TestInactiveWebsiteIsNotCrawled(t *testing.T) {
	var served atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.Write([]byte(threeCards))
	}))
	defer ts.Close()

	e := newEnv(t, Config{})
	w := e.site(t, ts.URL, 0, gridConfig())
	ctx := context.Background()
	off := false
	if _, err := store.UpdateWebsite(ctx, e.db, w.ID, store.WebsitePatch{IsActive: &off}, time.Now()); err != nil {
		t.Fatal(err)
	}

	if _, err := e.o.Trigger(ctx, w.ID, Options{}); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("trigger inactive: err = %v, want ErrInvalid", err)
	}
	if _, err := e.o.Run(ctx, w.ID, Options{}); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("run inactive: err = %v, want ErrInvalid", err)
	}
	if _, err := store.LatestRun(ctx, e.db, w.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("run log entry for inactive website: err = %v", err)
	}
	if served.Load() != 0 {
		t.Errorf("inactive website fetched %d times", served.Load())
	}
}

func TestRunTimeoutIsReported(t *testing.T) {
	var served atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := served.Add(1)
		w.Write([]byte(threeCards + `<a class="next" href="/?p=` + fmt.Sprint(n) + `">next</a>`))
	}))
	defer ts.Close()

	const timeout = 350 * time.Millisecond
	e := newEnv(t, Config{RunTimeout: timeout})
	cfg := gridConfig()
	cfg.Listing = &domain.ListingConfig{Pagination: domain.Pagination{NextSelector: "a.next"}}
	w := e.site(t, ts.URL, 100, cfg)

	start := time.Now()
	r := e.run(t, w.ID, Options{})
	elapsed := time.Since(start)

	if r.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", r.Status)
	}
	if elapsed < timeout {
		t.Errorf("run ended after %s, before its %s deadline", elapsed, timeout)
	}
	if len(r.Errors) == 0 {
		t.Fatal("timed out run has no errors")
	}
	last := r.Errors[len(r.Errors)-1]
	if !strings.Contains(last.Message, "run timeout") {
		t.Errorf("last error = %+v, want run timeout", last)
	}
	for _, re := range r.Errors {
		if strings.Contains(re.Message, "rate:") {
			t.Errorf("limiter error leaked into the run log: %+v", re)
		}
	}
	if r.PagesScraped < 2 {
		t.Errorf("pages = %d, want the pages fetched before the deadline", r.PagesScraped)
	}
}

func TestStaleAfterMissedFullRuns(t *testing.T) {
	var withToner atomic.Bool
	withToner.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withToner.Load() {
			w.Write([]byte(threeCards))
			return
		}
		w.Write([]byte(`<div class="grid"><div class="card"><span class="title">ANUA Peach Serum</span><span class="price">45.900</span></div></div>`))
	}))
	defer ts.Close()

	e := newEnv(t, Config{StaleAfterRuns: 2})
	w := e.site(t, ts.URL, 0, gridConfig())
	e.run(t, w.ID, Options{})
	withToner.Store(false)
	e.run(t, w.ID, Options{})
	e.run(t, w.ID, Options{})

	var stale int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM products WHERE website_id = ? AND is_stale = 1;`, w.ID).Scan(&stale); err != nil {
		t.Fatal(err)
	}
	if stale != 2 {
		t.Errorf("stale products = %d, want 2", stale)
	}
}
