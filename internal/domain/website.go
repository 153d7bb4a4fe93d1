package domain

import "time"

type Website struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	BaseURL       string     `json:"base_url"`
	ScraperType   ConfigType `json:"scraper_type"`
	Currency      string     `json:"currency"`
	IsActive      bool       `json:"is_active"`
	RateLimitMS   int        `json:"rate_limit_ms"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`
	TotalProducts int        `json:"total_products"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	DefaultRateLimitMS = 1000
	DefaultCurrency    = "TND"
)

func (w Website) RateLimit() time.Duration {
	if w.RateLimitMS <= 0 {
		return 0
	}
	return time.Duration(w.RateLimitMS) * time.Millisecond
}
