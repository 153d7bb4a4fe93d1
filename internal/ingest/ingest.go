// Package ingest reconciles extracted items against the product catalog and
// appends price history.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/store"
)

type Outcome string

const (
	Created   Outcome = "created"
	Updated   Outcome = "updated"
	Unchanged Outcome = "unchanged"
)

type Result struct {
	Outcome       Outcome
	PriceRecorded bool
	ProductID     int64
}

// Engine serializes writes per product: two items with the same
// (website, external id) are never reconciled at the same time.
type Engine struct {
	db    *sql.DB
	locks *keyLock
	log   *slog.Logger
	Now   func() time.Time
}

func New(db *sql.DB, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{db: db, locks: newKeyLock(), log: log, Now: time.Now}
}

// Ingest writes item for site. Invalid items come back as *domain.ParseError
// and leave the catalog untouched.
func (e *Engine) Ingest(ctx context.Context, site domain.Website, runID string, item domain.RawItem) (Result, error) {
	item.ExternalID = strings.TrimSpace(item.ExternalID)
	item.Name = strings.TrimSpace(item.Name)
	if item.ExternalID == "" {
		return Result{}, &domain.ParseError{URL: item.SourceURL, Field: "external_id", Message: "empty"}
	}
	if item.Name == "" {
		return Result{}, &domain.ParseError{URL: item.SourceURL, Field: "name", Message: "empty"}
	}
	if item.Price <= 0 {
		return Result{}, &domain.ParseError{URL: item.SourceURL, Field: "price", Message: "not positive: " + item.Price.String()}
	}

	unlock := e.locks.Lock(fmt.Sprintf("%d/%s", site.ID, item.ExternalID))
	defer unlock()

	var res Result
	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		now := e.Now().UTC()
		cur, err := store.GetProductByKey(ctx, tx, site.ID, item.ExternalID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			res, err = e.create(ctx, tx, site, runID, item, now)
			return err
		case err != nil:
			return err
		}
		res, err = e.update(ctx, tx, cur, runID, item, now)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", item.ExternalID, err)
	}
	return res, nil
}

func currencyOf(site domain.Website) string {
	if site.Currency == "" {
		return domain.DefaultCurrency
	}
	return site.Currency
}

func (e *Engine) create(ctx context.Context, tx *sql.Tx, site domain.Website, runID string, item domain.RawItem, now time.Time) (Result, error) {
	p := domain.Product{
		WebsiteID:     site.ID,
		ExternalID:    item.ExternalID,
		Name:          item.Name,
		Brand:         item.Brand,
		URL:           item.ProductURL,
		ImageURL:      item.ImageURL,
		Currency:      currencyOf(site),
		CurrentPrice:  item.Price,
		OriginalPrice: item.OriginalPrice,
		InStock:       item.InStock,
		FirstSeenAt:   now,
		LastSeenAt:    now,
	}
	id, err := store.InsertProduct(ctx, tx, p)
	if err != nil {
		return Result{}, err
	}
	if _, err := store.AppendPricePoint(ctx, tx, domain.PricePoint{
		ProductID:     id,
		Price:         item.Price,
		OriginalPrice: item.OriginalPrice,
		Currency:      p.Currency,
		RecordedAt:    now,
	}, runID); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Created, PriceRecorded: true, ProductID: id}, nil
}

func (e *Engine) update(ctx context.Context, tx *sql.Tx, cur domain.Product, runID string, item domain.RawItem, now time.Time) (Result, error) {
	next := cur
	next.Name = item.Name
	// optional fields that were not extracted this time keep their value
	if item.Brand != "" {
		next.Brand = item.Brand
	}
	if item.ProductURL != "" {
		next.URL = item.ProductURL
	}
	if item.ImageURL != "" {
		next.ImageURL = item.ImageURL
	}
	next.InStock = item.InStock
	next.CurrentPrice = item.Price
	next.OriginalPrice = item.OriginalPrice
	next.LastSeenAt = now

	attrsChanged := next.Name != cur.Name || next.Brand != cur.Brand || next.URL != cur.URL ||
		next.ImageURL != cur.ImageURL || next.InStock != cur.InStock
	priceChanged := !domain.SamePrice(cur.CurrentPrice, cur.OriginalPrice, item.Price, item.OriginalPrice)

	// last_seen_at and staleness are refreshed on every sighting
	if err := store.UpdateProduct(ctx, tx, next); err != nil {
		return Result{}, err
	}

	res := Result{Outcome: Unchanged, ProductID: cur.ID}
	if attrsChanged || priceChanged {
		res.Outcome = Updated
	}

	last, err := store.LatestPricePoint(ctx, tx, cur.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}
	if errors.Is(err, domain.ErrNotFound) || !domain.SamePrice(last.Price, last.OriginalPrice, item.Price, item.OriginalPrice) {
		if _, err := store.AppendPricePoint(ctx, tx, domain.PricePoint{
			ProductID:     cur.ID,
			Price:         item.Price,
			OriginalPrice: item.OriginalPrice,
			Currency:      next.Currency,
			RecordedAt:    now,
		}, runID); err != nil {
			return Result{}, err
		}
		res.PriceRecorded = true
		res.Outcome = Updated
		e.log.Debug("ingest: price change", "product_id", cur.ID,
			"from", last.Price.String(), "to", item.Price.String())
	}
	return res, nil
}
