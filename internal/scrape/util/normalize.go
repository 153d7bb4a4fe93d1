package util

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var strict = bluemonday.StrictPolicy()

func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// StripTags removes any markup left in an extracted value (attribute values
// and pre-escaped text) and collapses whitespace.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return CleanText(s)
	}
	out := strict.Sanitize(s)
	out = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`, "&lt;", "<", "&gt;", ">").Replace(out)
	return CleanText(out)
}

// Fold lowercases s, strips diacritics and collapses whitespace:
// "  Épuisé " -> "epuise".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return CleanText(strings.ToLower(out))
}
