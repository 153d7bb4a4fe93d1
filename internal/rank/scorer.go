// Package rank scores catalog entries against a search query. Scores are
// lexical, deterministic and in [0,1].
package rank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"pricewatch-engine/internal/scrape/util"
)

type Scorer interface {
	Score(query, text string) float64
}

// Lexical blends a token-set ratio (word overlap regardless of order and
// extra words) with a token-sort ratio (closeness of the whole string).
type Lexical struct {
	SetWeight  float64
	SortWeight float64
}

func DefaultLexical() Lexical {
	return Lexical{SetWeight: 0.85, SortWeight: 0.15}
}

func (l Lexical) Score(query, text string) float64 {
	q, t := Tokens(query), Tokens(text)
	if len(q) == 0 || len(t) == 0 {
		return 0
	}
	sw, tw := l.SetWeight, l.SortWeight
	if sw+tw <= 0 {
		sw, tw = 0.85, 0.15
	}
	s := (sw*tokenSetRatio(q, t) + tw*tokenSortRatio(q, t)) / (sw + tw)
	return math.Round(s*10000) / 10000
}

// Tokens folds s and splits it on anything that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(util.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Text joins a product's brand and name for scoring, leaving the brand out
// when the name already starts with it.
func Text(brand, name string) string {
	b := util.Fold(brand)
	if b == "" || strings.HasPrefix(util.Fold(name), b) {
		return name
	}
	return brand + " " + name
}

func tokenSortRatio(a, b []string) float64 {
	return ratio(sortedJoin(a), sortedJoin(b))
}

func tokenSetRatio(a, b []string) float64 {
	sa, sb := set(a), set(b)
	var inter, onlyA, onlyB []string
	for w := range sa {
		if sb[w] {
			inter = append(inter, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for w := range sb {
		if !sa[w] {
			onlyB = append(onlyB, w)
		}
	}
	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1
	}

	sect := sortedJoin(inter)
	da, db := sortedJoin(onlyA), sortedJoin(onlyB)
	if sect == "" {
		return ratio(da, db)
	}
	ca, cb := sect+" "+da, sect+" "+db
	return max(ratio(sect, ca), ratio(sect, cb), ratio(ca, cb))
}

// ratio is the normalized indel similarity 2*LCS/(len(a)+len(b)).
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return float64(2*lcs(ra, rb)) / float64(total)
}

func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func set(ws []string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

func sortedJoin(ws []string) string {
	c := append([]string(nil), ws...)
	sort.Strings(c)
	return strings.Join(c, " ")
}
