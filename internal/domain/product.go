package domain

import "time"

// RawItem is one unvalidated record produced by extraction.
type RawItem struct {
	ExternalID    string `json:"external_id"`
	Name          string `json:"name"`
	Brand         string `json:"brand,omitempty"`
	Price         Price  `json:"price"`
	OriginalPrice *Price `json:"original_price,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	ProductURL    string `json:"product_url,omitempty"`
	InStock       bool   `json:"in_stock"`
	SourceURL     string `json:"source_url"`
}

type Product struct {
	ID            int64     `json:"id"`
	WebsiteID     int64     `json:"website_id"`
	ExternalID    string    `json:"external_id"`
	Name          string    `json:"name"`
	Brand         string    `json:"brand,omitempty"`
	URL           string    `json:"product_url"`
	ImageURL      string    `json:"image_url,omitempty"`
	Currency      string    `json:"currency"`
	CurrentPrice  Price     `json:"current_price"`
	OriginalPrice *Price    `json:"original_price,omitempty"`
	InStock       bool      `json:"in_stock"`
	IsStale       bool      `json:"is_stale"`
	MissedRuns    int       `json:"missed_runs"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// PricePoint is immutable once written.
type PricePoint struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Price         Price     `json:"price"`
	OriginalPrice *Price    `json:"original_price,omitempty"`
	Currency      string    `json:"currency"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// SamePrice reports whether two (price, original price) pairs are identical.
func SamePrice(a Price, ao *Price, b Price, bo *Price) bool {
	if a != b {
		return false
	}
	if ao == nil || bo == nil {
		return ao == nil && bo == nil
	}
	return *ao == *bo
}
