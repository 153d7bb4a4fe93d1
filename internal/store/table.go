package store

import (
	"database/sql"
	"fmt"
)

var schemaV1 = []string{
	`
CREATE TABLE IF NOT EXISTS websites (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  base_url TEXT NOT NULL,
  scraper_type TEXT NOT NULL DEFAULT 'listing',
  currency TEXT NOT NULL DEFAULT 'TND',
  is_active INTEGER NOT NULL DEFAULT 1,
  rate_limit_ms INTEGER NOT NULL DEFAULT 1000,
  last_scraped_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS scraper_configs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  website_id INTEGER NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
  config_type TEXT NOT NULL,
  selectors TEXT NOT NULL DEFAULT '{}',
  listing_config TEXT,
  sitemap_config TEXT,
  schema_version INTEGER NOT NULL DEFAULT 1,
  version INTEGER NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  UNIQUE (website_id, version)
);`,
	`
CREATE TABLE IF NOT EXISTS products (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  website_id INTEGER NOT NULL REFERENCES websites(id),
  external_id TEXT NOT NULL,
  name TEXT NOT NULL,
  brand TEXT NOT NULL DEFAULT '',
  product_url TEXT NOT NULL DEFAULT '',
  image_url TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL DEFAULT 'TND',
  current_price INTEGER NOT NULL,
  original_price INTEGER,
  in_stock INTEGER NOT NULL DEFAULT 1,
  is_stale INTEGER NOT NULL DEFAULT 0,
  missed_runs INTEGER NOT NULL DEFAULT 0,
  first_seen_at TEXT NOT NULL,
  last_seen_at TEXT NOT NULL,
  UNIQUE (website_id, external_id)
);`,
	`
CREATE TABLE IF NOT EXISTS price_points (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  price INTEGER NOT NULL,
  original_price INTEGER,
  currency TEXT NOT NULL,
  recorded_at TEXT NOT NULL,
  run_id TEXT NOT NULL DEFAULT ''
);`,
	`
CREATE TABLE IF NOT EXISTS crawl_runs (
  id TEXT PRIMARY KEY,
  website_id INTEGER NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  triggered_by TEXT NOT NULL DEFAULT 'manual',
  full_scrape INTEGER NOT NULL DEFAULT 0,
  max_pages INTEGER NOT NULL DEFAULT 0,
  started_at TEXT NOT NULL,
  completed_at TEXT,
  products_found INTEGER NOT NULL DEFAULT 0,
  products_created INTEGER NOT NULL DEFAULT 0,
  products_updated INTEGER NOT NULL DEFAULT 0,
  prices_recorded INTEGER NOT NULL DEFAULT 0,
  pages_scraped INTEGER NOT NULL DEFAULT 0,
  item_errors INTEGER NOT NULL DEFAULT 0,
  errors TEXT NOT NULL DEFAULT '[]',
  cursor TEXT NOT NULL DEFAULT ''
);`,

	// ---- indexes ----

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_scraper_configs_active
ON scraper_configs(website_id) WHERE is_active = 1;`,
	`CREATE INDEX IF NOT EXISTS idx_products_website_seen
ON products(website_id, last_seen_at);`,
	`CREATE INDEX IF NOT EXISTS idx_price_points_product
ON price_points(product_id, recorded_at);`,
	`CREATE INDEX IF NOT EXISTS idx_price_points_recorded
ON price_points(recorded_at);`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_runs_website
ON crawl_runs(website_id, started_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_runs_active
ON crawl_runs(website_id) WHERE status IN ('queued', 'running');`,
}

func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= 1 {
		return tx.Commit()
	}

	for _, stmt := range schemaV1 {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1;`); err != nil {
		return err
	}

	return tx.Commit()
}
