package domain

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

type ConfigType string

const (
	ConfigListing ConfigType = "listing"
	ConfigSitemap ConfigType = "sitemap"
)

// SelectorSchemaVersion is bumped whenever Selectors gains or loses a field.
const SelectorSchemaVersion = 1

// Selectors is the closed set of named CSS selectors. An empty value means
// "do not extract this field". Any selector may end in ::attr(name) to read
// an attribute instead of text.
type Selectors struct {
	Container     string `json:"container" yaml:"container"`
	Item          string `json:"item" yaml:"item"`
	Name          string `json:"name" yaml:"name"`
	Brand         string `json:"brand" yaml:"brand"`
	Price         string `json:"price" yaml:"price"`
	OriginalPrice string `json:"original_price" yaml:"original_price"`
	Image         string `json:"image" yaml:"image"`
	URL           string `json:"url" yaml:"url"`
	InStock       string `json:"in_stock" yaml:"in_stock"`
	ExternalID    string `json:"external_id" yaml:"external_id"`
	WaitFor       string `json:"wait_for" yaml:"wait_for"`
}

type PaginationType string

const (
	PaginateNone      PaginationType = "none"
	PaginateNextLink  PaginationType = "next_link"
	PaginatePageParam PaginationType = "page_param"
)

type Pagination struct {
	Type         PaginationType `json:"type" yaml:"type"`
	NextSelector string         `json:"next_selector,omitempty" yaml:"next_selector"`
	PageParam    string         `json:"page_param,omitempty" yaml:"page_param"`
	StartPage    int            `json:"start_page,omitempty" yaml:"start_page"`
}

type ListingConfig struct {
	StartURL   string     `json:"start_url,omitempty" yaml:"start_url"`
	Pagination Pagination `json:"pagination" yaml:"pagination"`
}

type SitemapConfig struct {
	SitemapURL          string `json:"sitemap_url" yaml:"sitemap_url"`
	ChildSitemapPattern string `json:"child_sitemap_pattern,omitempty" yaml:"child_sitemap_pattern"`
	URLIncludePattern   string `json:"url_include_pattern,omitempty" yaml:"url_include_pattern"`
	URLExcludePattern   string `json:"url_exclude_pattern,omitempty" yaml:"url_exclude_pattern"`
	UseLastmod          bool   `json:"use_lastmod" yaml:"use_lastmod"`
}

// ScraperConfig is a tagged union: Type selects which of Listing or Sitemap
// is set, and the other is always nil after Normalize.
type ScraperConfig struct {
	ID            int64          `json:"id"`
	WebsiteID     int64          `json:"website_id"`
	Type          ConfigType     `json:"config_type" yaml:"type"`
	Selectors     Selectors      `json:"selectors" yaml:"selectors"`
	Listing       *ListingConfig `json:"listing_config,omitempty" yaml:"listing"`
	Sitemap       *SitemapConfig `json:"sitemap_config,omitempty" yaml:"sitemap"`
	SchemaVersion int            `json:"schema_version"`
	Version       int            `json:"version"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (c *ScraperConfig) Normalize() {
	c.Type = ConfigType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	s := &c.Selectors
	for _, f := range []*string{
		&s.Container, &s.Item, &s.Name, &s.Brand, &s.Price, &s.OriginalPrice,
		&s.Image, &s.URL, &s.InStock, &s.ExternalID, &s.WaitFor,
	} {
		*f = strings.TrimSpace(*f)
	}
	c.SchemaVersion = SelectorSchemaVersion

	switch c.Type {
	case ConfigListing:
		c.Sitemap = nil
		if c.Listing == nil {
			c.Listing = &ListingConfig{}
		}
		c.Listing.StartURL = strings.TrimSpace(c.Listing.StartURL)
		p := &c.Listing.Pagination
		p.Type = PaginationType(strings.ToLower(strings.TrimSpace(string(p.Type))))
		p.NextSelector = strings.TrimSpace(p.NextSelector)
		p.PageParam = strings.TrimSpace(p.PageParam)
		if p.Type == "" {
			if p.NextSelector != "" {
				p.Type = PaginateNextLink
			} else {
				p.Type = PaginateNone
			}
		}
		if p.Type == PaginatePageParam && p.StartPage <= 0 {
			p.StartPage = 1
		}
	case ConfigSitemap:
		c.Listing = nil
		if c.Sitemap == nil {
			c.Sitemap = &SitemapConfig{}
		}
		sm := c.Sitemap
		sm.SitemapURL = strings.TrimSpace(sm.SitemapURL)
		sm.ChildSitemapPattern = strings.TrimSpace(sm.ChildSitemapPattern)
		sm.URLIncludePattern = strings.TrimSpace(sm.URLIncludePattern)
		sm.URLExcludePattern = strings.TrimSpace(sm.URLExcludePattern)
	}
}

// Validate checks structure only; selector syntax is checked by the resolver.
func (c ScraperConfig) Validate() error {
	var errs ConfigErrors
	add := func(field, msg string) {
		errs = append(errs, &ConfigError{Field: field, Message: msg})
	}

	if c.Selectors.Name == "" {
		add("selectors.name", "is required")
	}
	if c.Selectors.Price == "" {
		add("selectors.price", "is required")
	}

	switch c.Type {
	case ConfigListing:
		if c.Selectors.Item == "" {
			add("selectors.item", "is required for listing configs")
		}
		if c.Sitemap != nil {
			add("sitemap_config", "must be empty for listing configs")
		}
		if c.Listing != nil {
			if c.Listing.StartURL != "" && !isAbsURL(c.Listing.StartURL) {
				add("listing_config.start_url", "must be an absolute http(s) URL")
			}
			p := c.Listing.Pagination
			switch p.Type {
			case PaginateNone, "":
			case PaginateNextLink:
				if p.NextSelector == "" {
					add("listing_config.pagination.next_selector", "is required for next_link pagination")
				}
			case PaginatePageParam:
				if p.PageParam == "" {
					add("listing_config.pagination.page_param", "is required for page_param pagination")
				}
			default:
				add("listing_config.pagination.type", "must be none, next_link or page_param")
			}
		}
	case ConfigSitemap:
		if c.Listing != nil {
			add("listing_config", "must be empty for sitemap configs")
		}
		if c.Sitemap == nil || c.Sitemap.SitemapURL == "" {
			add("sitemap_config.sitemap_url", "is required")
		} else {
			if !isAbsURL(c.Sitemap.SitemapURL) {
				add("sitemap_config.sitemap_url", "must be an absolute http(s) URL")
			}
			for _, p := range [][2]string{
				{"sitemap_config.child_sitemap_pattern", c.Sitemap.ChildSitemapPattern},
				{"sitemap_config.url_include_pattern", c.Sitemap.URLIncludePattern},
				{"sitemap_config.url_exclude_pattern", c.Sitemap.URLExcludePattern},
			} {
				if p[1] == "" {
					continue
				}
				if _, err := regexp.Compile(p[1]); err != nil {
					add(p[0], "invalid pattern: "+err.Error())
				}
			}
		}
	default:
		add("config_type", `must be "listing" or "sitemap"`)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Equivalent reports whether two configs would extract the same way,
// ignoring identity, version and activation fields.
func (c ScraperConfig) Equivalent(o ScraperConfig) bool {
	if c.Type != o.Type || c.Selectors != o.Selectors {
		return false
	}
	switch {
	case c.Listing != nil && o.Listing != nil:
		if *c.Listing != *o.Listing {
			return false
		}
	case c.Listing != nil || o.Listing != nil:
		return false
	}
	switch {
	case c.Sitemap != nil && o.Sitemap != nil:
		return *c.Sitemap == *o.Sitemap
	case c.Sitemap != nil || o.Sitemap != nil:
		return false
	}
	return true
}

func isAbsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
