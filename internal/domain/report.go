package domain

import "time"

// PriceDrop is one row of the price-drops report.
type PriceDrop struct {
	ProductID      int64     `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Brand          string    `json:"brand,omitempty"`
	WebsiteID      int64     `json:"website_id"`
	Website        string    `json:"website"`
	ProductURL     string    `json:"product_url,omitempty"`
	Currency       string    `json:"currency"`
	CurrentPrice   Price     `json:"current_price"`
	PreviousPrice  Price     `json:"previous_price"`
	DropAmount     Price     `json:"drop_amount"`
	DropPercentage float64   `json:"drop_percentage"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type PriceStats struct {
	Min     Price `json:"min"`
	Max     Price `json:"max"`
	Avg     Price `json:"avg"`
	Current Price `json:"current"`
	Points  int   `json:"points"`
}

// PriceHistory lists a product's points newest first.
type PriceHistory struct {
	Product Product      `json:"product"`
	Points  []PricePoint `json:"points"`
	Stats   *PriceStats  `json:"stats,omitempty"`
}

// SearchResult is computed per query and never stored.
type SearchResult struct {
	ProductID     int64   `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Brand         string  `json:"brand,omitempty"`
	WebsiteID     int64   `json:"website_id"`
	Website       string  `json:"website"`
	ProductURL    string  `json:"product_url,omitempty"`
	ImageURL      string  `json:"image_url,omitempty"`
	Price         Price   `json:"price"`
	OriginalPrice *Price  `json:"original_price,omitempty"`
	Currency      string  `json:"currency"`
	InStock       bool    `json:"in_stock"`
	MatchScore    float64 `json:"match_score"`
}

type Suggestion struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Score float64 `json:"score"`
}
