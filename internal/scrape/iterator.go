// Package scrape turns a scraper config into a finite, restartable sequence
// of fetched pages and the raw items found on them.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/fetch"
)

// Done is returned by Next once the sequence is exhausted.
var Done = errors.New("scrape: no more pages")

type PageKind string

const (
	PageListing PageKind = "listing"
	PageSitemap PageKind = "sitemap"
	PageProduct PageKind = "product"
)

// Page is the result of one fetch. Items holds what could be extracted;
// Errors holds one *domain.ParseError per item that could not.
type Page struct {
	URL    string
	Kind   PageKind
	Items  []domain.RawItem
	Errors []error
}

// Counted reports whether the page counts toward pages_scraped and max_pages.
func (p *Page) Counted() bool { return p.Kind != PageSitemap }

// Iterator performs exactly one fetch per Next call. A *fetch.Error from
// Next means that page was skipped and iteration may continue; a
// *domain.ConfigError is fatal; Done ends the sequence.
type Iterator interface {
	Next(ctx context.Context) (*Page, error)
	// Cursor captures the position after the last Next, for resuming.
	Cursor() Cursor
}

// Cursor is the serializable position of an iterator.
type Cursor struct {
	Kind    domain.ConfigType `json:"kind"`
	NextURL string            `json:"next_url,omitempty"`
	PageNum int               `json:"page_num,omitempty"`
	// sitemap traversal
	Sitemaps []string `json:"sitemaps,omitempty"`
	URLs     []Entry  `json:"urls,omitempty"`
	Index    int      `json:"index,omitempty"`
}

type Options struct {
	// MaxPages bounds listing/product page fetches; 0 means the default for
	// the strategy.
	MaxPages int
	// Since enables the lastmod filter: sitemap URLs whose lastmod is not
	// after Since are dropped. Nil disables it.
	Since *time.Time
	// Resume restarts from a previous run's cursor.
	Resume *Cursor
	Logger *slog.Logger
}

const (
	DefaultListingMaxPages = 50
	DefaultSitemapMaxPages = 300
)

// New builds the iterator for cfg. Config problems, including selectors that
// do not compile, are returned as *domain.ConfigError.
func New(cfg domain.ScraperConfig, site domain.Website, f fetch.Fetcher, opts Options) (Iterator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	x, err := newExtractor(cfg.Selectors)
	if err != nil {
		return nil, err
	}
	if opts.Resume != nil && opts.Resume.Kind != cfg.Type {
		opts.Logger.Warn("scrape: ignoring cursor of another strategy",
			"website_id", site.ID, "cursor", opts.Resume.Kind, "config", cfg.Type)
		opts.Resume = nil
	}

	switch cfg.Type {
	case domain.ConfigListing:
		if opts.MaxPages <= 0 {
			opts.MaxPages = DefaultListingMaxPages
		}
		return newListing(cfg, site, f, x, opts)
	case domain.ConfigSitemap:
		if opts.MaxPages <= 0 {
			opts.MaxPages = DefaultSitemapMaxPages
		}
		return newSitemap(cfg, site, f, x, opts)
	default:
		return nil, &domain.ConfigError{Field: "config_type", Message: fmt.Sprintf("unknown type %q", cfg.Type)}
	}
}
