package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeListingDefaults(t *testing.T) {
	c := ScraperConfig{
		Type:      " Listing ",
		Selectors: Selectors{Item: " .card ", Name: ".title", Price: ".price"},
		Sitemap:   &SitemapConfig{SitemapURL: "https://x.test/sitemap.xml"},
	}
	c.Normalize()

	if c.Type != ConfigListing {
		t.Fatalf("type: got %q", c.Type)
	}
	if c.Sitemap != nil {
		t.Error("sitemap variant should be cleared")
	}
	if c.Listing == nil || c.Listing.Pagination.Type != PaginateNone {
		t.Errorf("pagination default: %+v", c.Listing)
	}
	if c.Selectors.Item != ".card" {
		t.Errorf("selectors not trimmed: %q", c.Selectors.Item)
	}
	if c.SchemaVersion != SelectorSchemaVersion {
		t.Errorf("schema version: %d", c.SchemaVersion)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	c := ScraperConfig{
		Type: ConfigSitemap,
		Sitemap: &SitemapConfig{
			SitemapURL:        "/relative.xml",
			URLIncludePattern: "([",
		},
	}
	c.Normalize()
	err := c.Validate()

	var errs ConfigErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ConfigErrors, got %T %v", err, err)
	}
	msg := err.Error()
	for _, want := range []string{"selectors.name", "selectors.price", "sitemap_url", "url_include_pattern"} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in %q", want, msg)
		}
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	c := ScraperConfig{Type: "api", Selectors: Selectors{Name: "h1", Price: ".p"}}
	c.Normalize()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "config_type") {
		t.Fatalf("got %v", err)
	}
}

func TestEquivalentIgnoresVersion(t *testing.T) {
	a := ScraperConfig{Type: ConfigListing, Selectors: Selectors{Item: ".c", Name: ".n", Price: ".p"}, Version: 1}
	b := a
	b.Version = 7
	b.IsActive = true
	a.Normalize()
	b.Normalize()
	if !a.Equivalent(b) {
		t.Error("configs differing only by version should be equivalent")
	}
	b.Selectors.Brand = ".brand"
	if a.Equivalent(b) {
		t.Error("selector change should not be equivalent")
	}
}
