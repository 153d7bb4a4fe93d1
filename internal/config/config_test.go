package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/store"
)

func TestDefaultIsValid(t *testing.T) {
	_, res := NormalizeAndValidate(Default())
	if !res.OK() {
		t.Fatalf("default config errors: %v", res.Errors)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	os.WriteFile(p, []byte("crawl:\n  workers: 2\n"), 0o644)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Crawl.Workers != 2 || cfg.Crawl.FetchRetries != 3 || cfg.Search.MinScore != 0.3 {
		t.Errorf("loaded = %+v", cfg.Crawl)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := Default()
	cfg.Crawl.Workers = 0
	cfg.Crawl.RetryInitialMS = 20000
	cfg.Search.MinScore = 2
	cfg.Retention.RunLogDays = 3
	_, res := NormalizeAndValidate(cfg)
	if len(res.Errors) != 3 {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if err := SaveAtomic(filepath.Join(t.TempDir(), "c.yml"), cfg); err == nil || !strings.Contains(err.Error(), "crawl.workers") {
		t.Errorf("SaveAtomic err = %v", err)
	}
}

func TestSaveAtomicKeepsBackup(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	cfg := Default()
	if err := SaveAtomic(p, cfg); err != nil {
		t.Fatal(err)
	}
	cfg.Crawl.Workers = 7
	if err := SaveAtomic(p, cfg); err != nil {
		t.Fatal(err)
	}
	back, err := Load(p + ".bak")
	if err != nil || back.Crawl.Workers != 4 {
		t.Errorf("backup workers = %d err = %v", back.Crawl.Workers, err)
	}
	cur, _ := Load(p)
	if cur.Crawl.Workers != 7 {
		t.Errorf("saved workers = %d", cur.Crawl.Workers)
	}
}

func TestEnsureUserConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	p, err := EnsureUserConfig(dir, filepath.Join(dir, "missing.yml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil || cfg.App.Port != Default().App.Port {
		t.Errorf("bootstrapped config = %+v err = %v", cfg.App, err)
	}
}

const sitesYAML = `
websites:
  - name: shopa
    base_url: https://shopa.example
    rate_limit_ms: 1500
    config:
      type: listing
      selectors:
        container: .grid
        item: .card
        name: .title
        price: .price
      listing:
        pagination:
          type: page_param
          page_param: page
  - name: shopb
    base_url: https://shopb.example
    config:
      type: sitemap
      selectors:
        name: h1
        price: .price
      sitemap:
        sitemap_url: https://shopb.example/sitemap.xml
        use_lastmod: true
`

func TestOverlaySitesIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yml")
	os.WriteFile(path, []byte(sitesYAML), 0o644)

	d, err := store.Open(filepath.Join(dir, "seed.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	res := resolver.New(d.Pool, nil)
	ctx := context.Background()

	sf, err := LoadSites(path)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := OverlaySites(ctx, d.Pool, res, sf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Created != 2 || rep.ConfigsChanged != 2 {
		t.Errorf("first overlay = %+v", rep)
	}

	rep, err = OverlaySites(ctx, d.Pool, res, sf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 2 || rep.ConfigsChanged != 0 {
		t.Errorf("second overlay = %+v", rep)
	}

	w, err := store.GetWebsiteByName(ctx, d.Pool, "shopa")
	if err != nil {
		t.Fatal(err)
	}
	if w.RateLimitMS != 1500 || w.ScraperType != domain.ConfigListing {
		t.Errorf("shopa = %+v", w)
	}
	b, _ := store.GetWebsiteByName(ctx, d.Pool, "shopb")
	if b.RateLimitMS != domain.DefaultRateLimitMS || b.ScraperType != domain.ConfigSitemap {
		t.Errorf("shopb = %+v", b)
	}

	if sf, err := LoadSites(filepath.Join(dir, "nope.yml")); err != nil || len(sf.Websites) != 0 {
		t.Errorf("missing sites file: %+v %v", sf, err)
	}
}

func TestDiffSplitsLiveAndRestartSettings(t *testing.T) {
	prev := Default()
	next := prev
	next.Drops.WindowHours = 48
	next.Retention.RunLogDays = 30
	next.Retention.PruneEveryMinutes = 5
	next.Crawl.Workers = 8
	next.SitesFile = "shops.yml"

	r := Diff(prev, next)
	wantApplied := []string{KeyDrops, KeyRunLogDays, KeySitesFile}
	wantRestart := []string{KeyCrawl, KeyPruneInterval}
	if !reflect.DeepEqual(r.Applied, wantApplied) {
		t.Errorf("applied = %v, want %v", r.Applied, wantApplied)
	}
	if !reflect.DeepEqual(r.RestartRequired, wantRestart) {
		t.Errorf("restart required = %v, want %v", r.RestartRequired, wantRestart)
	}
	if !r.Has(KeySitesFile) || r.Has(KeyCrawl) {
		t.Errorf("Has on %+v", r)
	}

	if r := Diff(prev, prev); len(r.Applied) != 0 || len(r.RestartRequired) != 0 {
		t.Errorf("no-op diff = %+v", r)
	}
}
