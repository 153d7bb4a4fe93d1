package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
)

var attrSuffix = regexp.MustCompile(`::attr\(\s*([A-Za-z_:][-A-Za-z0-9_:.]*)\s*\)\s*$`)

// Selector is a compiled CSS selector, optionally reading an attribute
// (written "sel::attr(name)") instead of the node text.
type Selector struct {
	Raw     string
	CSS     string
	Attr    string
	Matcher cascadia.Selector
}

// CompileSelector parses raw. An empty raw selector returns a nil Selector
// and no error: the field is simply not extracted.
func CompileSelector(raw string) (*Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	s := &Selector{Raw: raw, CSS: raw}
	if m := attrSuffix.FindStringSubmatch(raw); m != nil {
		s.CSS = strings.TrimSpace(raw[:len(raw)-len(m[0])])
		s.Attr = m[1]
	} else if strings.Contains(raw, "::attr") {
		return nil, fmt.Errorf("selector %q: malformed ::attr()", raw)
	}
	if s.CSS == "" {
		return nil, fmt.Errorf("selector %q: empty css part", raw)
	}
	m, err := cascadia.Compile(s.CSS)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", raw, err)
	}
	s.Matcher = m
	return s, nil
}
