package domain

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunStopped RunStatus = "stopped"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunStopped:
		return true
	}
	return false
}

func (s RunStatus) Valid() bool {
	return s == RunQueued || s == RunRunning || s.Terminal()
}

type ErrorKind string

const (
	KindConfig ErrorKind = "config_error"
	KindFetch  ErrorKind = "fetch_error"
	KindParse  ErrorKind = "parse_error"
	KindFatal  ErrorKind = "fatal"
)

// RunError is one entry of a run's structured error list.
type RunError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	URL      string    `json:"url,omitempty"`
	Field    string    `json:"field,omitempty"`
	Selector string    `json:"selector,omitempty"`
	Status   int       `json:"status,omitempty"`
	At       time.Time `json:"at"`
}

type RunCounters struct {
	ProductsFound   int `json:"products_found"`
	ProductsCreated int `json:"products_created"`
	ProductsUpdated int `json:"products_updated"`
	PricesRecorded  int `json:"prices_recorded"`
	PagesScraped    int `json:"pages_scraped"`
	ItemErrors      int `json:"item_errors"`
}

type CrawlRun struct {
	ID          string     `json:"id"`
	WebsiteID   int64      `json:"website_id"`
	Status      RunStatus  `json:"status"`
	TriggeredBy string     `json:"triggered_by"`
	FullScrape  bool       `json:"full_scrape"`
	MaxPages    int        `json:"max_pages"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RunCounters
	Errors          []RunError      `json:"errors,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Cursor          json.RawMessage `json:"-"`
}

// Finish stamps the terminal status and duration.
func (r *CrawlRun) Finish(status RunStatus, at time.Time) {
	r.Status = status
	r.CompletedAt = &at
	d := at.Sub(r.StartedAt).Seconds()
	r.DurationSeconds = &d
}
