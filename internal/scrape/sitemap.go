package scrape

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/fetch"
)

// Entry is one <url> of a urlset.
type Entry struct {
	Loc        string     `json:"loc"`
	Lastmod    *time.Time `json:"lastmod,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
	ImageTitle string     `json:"image_title,omitempty"`
}

type sitemapIter struct {
	site  domain.Website
	cfg   domain.SitemapConfig
	f     fetch.Fetcher
	x     *extractor
	max   int
	since *time.Time
	log   *slog.Logger

	child, include, exclude *regexp.Regexp

	sitemaps []string
	urls     []Entry
	index    int
	fetched  int
	seen     map[string]bool
}

func compilePattern(field, p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, &domain.ConfigError{Field: field, Message: "invalid pattern: " + err.Error()}
	}
	return re, nil
}

func newSitemap(cfg domain.ScraperConfig, site domain.Website, f fetch.Fetcher, x *extractor, opts Options) (*sitemapIter, error) {
	if cfg.Sitemap == nil || cfg.Sitemap.SitemapURL == "" {
		return nil, &domain.ConfigError{Field: "sitemap_config.sitemap_url", Message: "is required"}
	}
	it := &sitemapIter{
		site: site,
		cfg:  *cfg.Sitemap,
		f:    f,
		x:    x,
		max:  opts.MaxPages,
		log:  opts.Logger,
		seen: map[string]bool{},
	}
	if it.cfg.UseLastmod {
		it.since = opts.Since
	}

	var err error
	if it.child, err = compilePattern("sitemap_config.child_sitemap_pattern", it.cfg.ChildSitemapPattern); err != nil {
		return nil, err
	}
	if it.include, err = compilePattern("sitemap_config.url_include_pattern", it.cfg.URLIncludePattern); err != nil {
		return nil, err
	}
	if it.exclude, err = compilePattern("sitemap_config.url_exclude_pattern", it.cfg.URLExcludePattern); err != nil {
		return nil, err
	}

	if c := opts.Resume; c != nil && (len(c.Sitemaps) > 0 || c.Index < len(c.URLs)) {
		it.sitemaps = append([]string(nil), c.Sitemaps...)
		it.urls = append([]Entry(nil), c.URLs...)
		it.index = c.Index
		for _, e := range it.urls {
			it.seen[e.Loc] = true
		}
	} else {
		it.sitemaps = []string{it.cfg.SitemapURL}
	}
	return it, nil
}

func (it *sitemapIter) Cursor() Cursor {
	return Cursor{
		Kind:     domain.ConfigSitemap,
		Sitemaps: append([]string(nil), it.sitemaps...),
		URLs:     append([]Entry(nil), it.urls...),
		Index:    it.index,
	}
}

func (it *sitemapIter) Next(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(it.sitemaps) > 0 {
		return it.nextSitemap(ctx)
	}
	if it.index >= len(it.urls) || it.fetched >= it.max {
		return nil, Done
	}
	return it.nextProduct(ctx)
}

func (it *sitemapIter) nextSitemap(ctx context.Context) (*Page, error) {
	cur := it.sitemaps[0]
	it.sitemaps = it.sitemaps[1:]
	page := &Page{URL: cur, Kind: PageSitemap}

	res, err := it.f.Fetch(ctx, fetch.Request{URL: cur})
	if err != nil {
		return page, err
	}
	doc, err := parseXML(res.Body)
	if err != nil {
		return page, &fetch.Error{URL: cur, Err: fmt.Errorf("parse sitemap: %w", err)}
	}

	children, entries := readSitemap(doc)
	for _, c := range children {
		if it.child != nil && !it.child.MatchString(c) {
			continue
		}
		it.sitemaps = append(it.sitemaps, c)
	}

	var kept, old int
	for _, e := range entries {
		if it.seen[e.Loc] {
			continue
		}
		if it.include != nil && !it.include.MatchString(e.Loc) {
			continue
		}
		if it.exclude != nil && it.exclude.MatchString(e.Loc) {
			continue
		}
		// entries without lastmod are always revisited
		if it.since != nil && e.Lastmod != nil && !e.Lastmod.After(*it.since) {
			old++
			continue
		}
		it.seen[e.Loc] = true
		it.urls = append(it.urls, e)
		kept++
	}

	it.log.Info("scrape: sitemap parsed", "website_id", it.site.ID, "url", cur,
		"children", len(children), "urls", len(entries), "kept", kept, "unchanged", old)
	return page, nil
}

func (it *sitemapIter) nextProduct(ctx context.Context) (*Page, error) {
	e := it.urls[it.index]
	it.index++
	it.fetched++
	page := &Page{URL: e.Loc, Kind: PageProduct}

	res, err := it.f.Fetch(ctx, fetch.Request{URL: e.Loc, WaitFor: it.x.waitFor})
	if err != nil {
		return page, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return page, &fetch.Error{URL: e.Loc, Err: err}
	}

	h := pageHints{detail: true, name: e.ImageTitle, image: e.ImageURL}
	if h.name == "" {
		// "Peach Serum | Shop" -> "Peach Serum"
		t, _, _ := strings.Cut(doc.Find("title").First().Text(), "|")
		h.name = strings.TrimSpace(t)
	}
	item, err := it.x.extract(doc.Selection, e.Loc, h)
	if err != nil {
		page.Errors = append(page.Errors, err)
		return page, nil
	}
	page.Items = append(page.Items, item)
	return page, nil
}

func parseXML(body []byte) (*xmlquery.Node, error) {
	var r io.Reader = bytes.NewReader(body)
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	return xmlquery.Parse(r)
}

// readSitemap returns the child sitemap locations of a sitemap index and the
// entries of a urlset. Namespaces are ignored.
func readSitemap(doc *xmlquery.Node) (children []string, entries []Entry) {
	for _, n := range xmlquery.Find(doc, "//*[local-name()='sitemapindex']/*[local-name()='sitemap']/*[local-name()='loc']") {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			children = append(children, loc)
		}
	}
	for _, n := range xmlquery.Find(doc, "//*[local-name()='urlset']/*[local-name()='url']") {
		loc := childText(n, "loc")
		if loc == "" {
			continue
		}
		e := Entry{Loc: loc}
		if lm := childText(n, "lastmod"); lm != "" {
			if t, ok := parseLastmod(lm); ok {
				e.Lastmod = &t
			}
		}
		if img := xmlquery.FindOne(n, "./*[local-name()='image']"); img != nil {
			e.ImageURL = childText(img, "loc")
			e.ImageTitle = childText(img, "title")
		}
		entries = append(entries, e)
	}
	return children, entries
}

func childText(n *xmlquery.Node, name string) string {
	c := xmlquery.FindOne(n, "./*[local-name()='"+name+"']")
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.InnerText())
}

var lastmodLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseLastmod(s string) (time.Time, bool) {
	for _, l := range lastmodLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
