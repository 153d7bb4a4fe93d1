package scrape

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/scrape/util"
)

var outOfStockPhrases = []string{
	"out of stock",
	"outofstock",
	"rupture",
	"indisponible",
	"epuise",
	"non disponible",
	"unavailable",
	"sold out",
}

// extractor holds the compiled selectors of one config. A nil selector means
// the field is not extracted.
type extractor struct {
	container, item                   *util.Selector
	name, brand, price, originalPrice *util.Selector
	image, url, inStock, externalID   *util.Selector
	waitFor                           string
}

func newExtractor(s domain.Selectors) (*extractor, error) {
	x := &extractor{waitFor: s.WaitFor}
	var errs domain.ConfigErrors
	for _, f := range []struct {
		field string
		raw   string
		dst   **util.Selector
	}{
		{"selectors.container", s.Container, &x.container},
		{"selectors.item", s.Item, &x.item},
		{"selectors.name", s.Name, &x.name},
		{"selectors.brand", s.Brand, &x.brand},
		{"selectors.price", s.Price, &x.price},
		{"selectors.original_price", s.OriginalPrice, &x.originalPrice},
		{"selectors.image", s.Image, &x.image},
		{"selectors.url", s.URL, &x.url},
		{"selectors.in_stock", s.InStock, &x.inStock},
		{"selectors.external_id", s.ExternalID, &x.externalID},
		{"selectors.wait_for", s.WaitFor, new(*util.Selector)},
	} {
		sel, err := util.CompileSelector(f.raw)
		if err != nil {
			errs = append(errs, &domain.ConfigError{Field: f.field, Message: err.Error()})
			continue
		}
		*f.dst = sel
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if x.name == nil {
		return nil, &domain.ConfigError{Field: "selectors.name", Message: "is required"}
	}
	if x.price == nil {
		return nil, &domain.ConfigError{Field: "selectors.price", Message: "is required"}
	}
	return x, nil
}

// value reads sel relative to s: the attribute when the selector names one,
// otherwise the first match's text. found is false when nothing matched.
func value(s *goquery.Selection, sel *util.Selector, defaultAttrs ...string) (v string, found bool) {
	if sel == nil {
		return "", false
	}
	m := s.FindMatcher(sel.Matcher).First()
	if m.Length() == 0 {
		return "", false
	}
	if sel.Attr != "" {
		a, _ := m.Attr(sel.Attr)
		return util.StripTags(a), true
	}
	for _, name := range defaultAttrs {
		// lazy-loaded images keep a data: placeholder in src
		if a, ok := m.Attr(name); ok && strings.TrimSpace(a) != "" && !strings.HasPrefix(a, "data:") {
			return strings.TrimSpace(a), true
		}
	}
	if len(defaultAttrs) > 0 {
		return "", true
	}
	return util.StripTags(m.Text()), true
}

// pageHints carries what is known about a product detail page before it is
// parsed. The zero value is used for listing items.
type pageHints struct {
	detail bool
	name   string // sitemap image title or document title
	image  string // sitemap image:loc
}

// extract reads one RawItem from s. pageURL resolves relative links and, on
// detail pages, is the product URL fallback.
func (x *extractor) extract(s *goquery.Selection, pageURL string, h pageHints) (domain.RawItem, error) {
	perr := func(field string, sel *util.Selector, msg string) error {
		e := &domain.ParseError{URL: pageURL, Field: field, Message: msg}
		if sel != nil {
			e.Selector = sel.Raw
		}
		return e
	}

	it := domain.RawItem{SourceURL: pageURL, InStock: true}

	name, _ := value(s, x.name)
	if name == "" {
		name = h.name
	}
	if name == "" {
		return it, perr("name", x.name, "matched no nodes")
	}
	it.Name = name

	priceText, found := value(s, x.price)
	if !found {
		return it, perr("price", x.price, "matched no nodes")
	}
	p, err := domain.ParsePrice(priceText)
	if err != nil {
		return it, perr("price", x.price, "unparsable price "+quote(priceText))
	}
	it.Price = p

	if t, ok := value(s, x.originalPrice); ok && t != "" {
		if op, err := domain.ParsePrice(t); err == nil && op > 0 {
			it.OriginalPrice = &op
		}
	}

	it.Brand, _ = value(s, x.brand)

	if u, ok := value(s, x.url, "href"); ok {
		it.ProductURL = util.Resolve(pageURL, u)
	}
	if it.ProductURL == "" && h.detail {
		it.ProductURL = pageURL
	}

	if img, ok := value(s, x.image, "src", "data-src", "data-lazy-src", "data-original"); ok {
		it.ImageURL = util.Resolve(pageURL, img)
	}
	if it.ImageURL == "" && h.image != "" {
		it.ImageURL = h.image
	}

	if x.inStock != nil {
		if t, ok := value(s, x.inStock); ok {
			it.InStock = inStock(t)
		}
	}

	if id, ok := value(s, x.externalID); ok && id != "" {
		it.ExternalID = id
	} else if it.ProductURL != "" {
		it.ExternalID = util.ExternalIDFromURL(it.ProductURL)
	} else {
		it.ExternalID = nameID(it.Brand, it.Name)
	}
	return it, nil
}

func inStock(text string) bool {
	t := util.Fold(text)
	if t == "" {
		return true
	}
	for _, p := range outOfStockPhrases {
		if strings.Contains(t, p) {
			return false
		}
	}
	return true
}

// nameID is the identity of an item that has neither a link nor an id
// selector: a hash of its folded brand and name.
func nameID(brand, name string) string {
	sum := sha1.Sum([]byte("name:" + util.Fold(brand+" "+name)))
	return hex.EncodeToString(sum[:])[:16]
}

func quote(s string) string {
	if r := []rune(s); len(r) > 60 {
		s = string(r[:60]) + "..."
	}
	return `"` + s + `"`
}
