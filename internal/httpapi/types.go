package httpapi

import "pricewatch-engine/internal/domain"

type websiteRequest struct {
	Name        string            `json:"name"`
	BaseURL     string            `json:"base_url"`
	ScraperType domain.ConfigType `json:"scraper_type"`
	Currency    string            `json:"currency"`
	IsActive    *bool             `json:"is_active"`
	RateLimitMS *int              `json:"rate_limit_ms"`
}

type runsPage struct {
	Runs   []domain.CrawlRun `json:"runs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type dropsResponse struct {
	WindowHours   int                `json:"window_hours"`
	MinPercentage float64            `json:"min_percentage"`
	Count         int                `json:"count"`
	Drops         []domain.PriceDrop `json:"drops"`
}

type suggestionsResponse struct {
	Query       string              `json:"query"`
	Suggestions []domain.Suggestion `json:"suggestions"`
}
