package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Price is a fixed-point currency amount in thousandths of the unit,
// so 45.900 TND is Price(45900). Comparisons are exact.
type Price int64

const priceScale = 1000

var (
	ErrEmptyPrice   = errors.New("price: empty text")
	priceJunk       = regexp.MustCompile(`[^\d.,\s]`)
	thousandsGroup  = regexp.MustCompile(`^\d{3}([.,]\d*)?$`)
	plainDecimalRaw = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

func (p Price) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%03d", sign, v/priceScale, v%priceScale)
}

func (p Price) Float64() float64 { return float64(p) / priceScale }

func (p Price) MarshalJSON() ([]byte, error) {
	s := p.String()
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return []byte(s), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	v, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseDecimal parses a plain "123" or "123.456" amount. Digits past the
// third decimal are rounded half up.
func ParseDecimal(s string) (Price, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !plainDecimalRaw.MatchString(s) {
		return 0, fmt.Errorf("price: invalid decimal %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price: %w", err)
	}
	var f int64
	roundUp := false
	for i := 0; i < len(frac); i++ {
		d := int64(frac[i] - '0')
		if i < 3 {
			f = f*10 + d
			continue
		}
		roundUp = d >= 5
		break
	}
	for i := len(frac); i < 3; i++ {
		f *= 10
	}
	v := w*priceScale + f
	if roundUp {
		v++
	}
	if neg {
		v = -v
	}
	return Price(v), nil
}

// ParsePrice reads a price out of scraped text, tolerating currency symbols
// and words, thousands separators (space, dot, comma) and comma decimals:
// "45.900 TND", "45,900 DT", "1 299,000", "€1.234,56", "$1,234.56".
// When the text carries several amounts only the first one is read.
func ParsePrice(text string) (Price, error) {
	text = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2009", " ", "'", " ").Replace(text)
	cleaned := strings.TrimSpace(priceJunk.ReplaceAllString(text, " "))
	fields := strings.Fields(cleaned)

	num := ""
	for _, f := range fields {
		if !strings.ContainsAny(f, "0123456789") {
			if num != "" {
				break
			}
			continue
		}
		if num == "" {
			num = f
			continue
		}
		if !strings.ContainsAny(num, ".,") && thousandsGroup.MatchString(f) {
			num += f
			continue
		}
		break
	}
	num = strings.Trim(num, ".,")
	if num == "" {
		return 0, ErrEmptyPrice
	}

	dots := strings.Count(num, ".")
	commas := strings.Count(num, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(num, ",") > strings.LastIndex(num, ".") {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case commas > 1:
		num = strings.ReplaceAll(num, ",", "")
	case commas == 1:
		num = strings.Replace(num, ",", ".", 1)
	case dots > 1:
		num = strings.ReplaceAll(num, ".", "")
	}

	p, err := ParseDecimal(num)
	if err != nil {
		return 0, fmt.Errorf("price: unparsable %q", text)
	}
	return p, nil
}
