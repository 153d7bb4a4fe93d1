package scrape

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/scrape/util"
)

type listingIter struct {
	site  domain.Website
	pg    domain.Pagination
	start string
	f     fetch.Fetcher
	x     *extractor
	next  *util.Selector
	max   int
	log   *slog.Logger

	nextURL string
	pageNum int
	fetched int
	done    bool
	resumed bool
	seen    map[string]bool
}

func newListing(cfg domain.ScraperConfig, site domain.Website, f fetch.Fetcher, x *extractor, opts Options) (*listingIter, error) {
	if x.item == nil {
		return nil, &domain.ConfigError{Field: "selectors.item", Message: "is required for listing configs"}
	}
	lc := domain.ListingConfig{}
	if cfg.Listing != nil {
		lc = *cfg.Listing
	}
	start := lc.StartURL
	if start == "" {
		start = site.BaseURL
	}

	it := &listingIter{
		site:  site,
		pg:    lc.Pagination,
		start: start,
		f:     f,
		x:     x,
		max:   opts.MaxPages,
		log:   opts.Logger,
		seen:  map[string]bool{},
	}

	switch it.pg.Type {
	case domain.PaginateNextLink:
		sel, err := util.CompileSelector(it.pg.NextSelector)
		if err != nil {
			return nil, &domain.ConfigError{Field: "listing_config.pagination.next_selector", Message: err.Error()}
		}
		it.next = sel
	case domain.PaginatePageParam:
		if it.pg.StartPage <= 0 {
			it.pg.StartPage = 1
		}
	}

	it.nextURL = start
	it.pageNum = it.pg.StartPage
	if it.pg.Type == domain.PaginatePageParam {
		it.nextURL = withParam(start, it.pg.PageParam, it.pageNum)
	}
	if c := opts.Resume; c != nil && c.NextURL != "" {
		it.nextURL = c.NextURL
		it.resumed = true
		if c.PageNum > 0 {
			it.pageNum = c.PageNum
		}
	}
	return it, nil
}

func (it *listingIter) Cursor() Cursor {
	c := Cursor{Kind: domain.ConfigListing, PageNum: it.pageNum}
	if !it.done {
		c.NextURL = it.nextURL
	}
	return c
}

func (it *listingIter) Next(ctx context.Context) (*Page, error) {
	if it.done || it.nextURL == "" || it.fetched >= it.max {
		it.done = true
		return nil, Done
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cur := it.nextURL
	it.seen[cur] = true
	it.fetched++
	page := &Page{URL: cur, Kind: PageListing}

	res, err := it.f.Fetch(ctx, fetch.Request{URL: cur, WaitFor: it.x.waitFor})
	if err != nil {
		// a lost page hides its next link; only numbered pages can go on
		if it.pg.Type == domain.PaginatePageParam {
			it.advanceParam()
		} else {
			it.done = true
		}
		return page, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		it.done = true
		return page, &fetch.Error{URL: cur, Err: err}
	}

	scope := doc.Selection
	if it.x.container != nil {
		scope = doc.FindMatcher(it.x.container.Matcher)
	}
	nodes := scope.FindMatcher(it.x.item.Matcher)
	if nodes.Length() == 0 && it.fetched == 1 && !it.resumed {
		page.Errors = append(page.Errors, it.emptyFirstPage(cur, scope))
	}
	nodes.Each(func(_ int, s *goquery.Selection) {
		item, err := it.x.extract(s, res.URL, pageHints{})
		if err != nil {
			page.Errors = append(page.Errors, err)
			return
		}
		page.Items = append(page.Items, item)
	})
	it.log.Debug("scrape: listing page", "website_id", it.site.ID, "url", cur,
		"nodes", nodes.Length(), "items", len(page.Items), "errors", len(page.Errors))

	switch it.pg.Type {
	case domain.PaginateNextLink:
		it.nextURL = ""
		if href, ok := value(doc.Selection, it.next, "href"); ok {
			if u := util.Resolve(res.URL, href); u != "" && !it.seen[u] {
				it.nextURL = u
			}
		}
		if it.nextURL == "" {
			it.done = true
		}
	case domain.PaginatePageParam:
		if nodes.Length() == 0 {
			it.done = true
		} else {
			it.advanceParam()
		}
	default:
		it.done = true
	}
	return page, nil
}

// emptyFirstPage reports which selector found nothing on the start page.
// Later pages may legitimately be empty.
func (it *listingIter) emptyFirstPage(pageURL string, scope *goquery.Selection) error {
	if it.x.container != nil && scope.Length() == 0 {
		return &domain.ParseError{URL: pageURL, Field: "container", Selector: it.x.container.Raw, Message: "matched no nodes"}
	}
	return &domain.ParseError{URL: pageURL, Field: "item", Selector: it.x.item.Raw, Message: "matched no nodes"}
}

func (it *listingIter) advanceParam() {
	it.pageNum++
	it.nextURL = withParam(it.start, it.pg.PageParam, it.pageNum)
}

func withParam(raw, param string, n int) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}
