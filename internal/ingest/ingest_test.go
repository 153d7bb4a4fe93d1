package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/store"
)

func setup(t *testing.T) (*sql.DB, domain.Website) {
	t.Helper()
	d, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	w, err := store.CreateWebsite(context.Background(), d.Pool, domain.Website{
		Name: "shopa", BaseURL: "https://shopa.example", IsActive: true,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return d.Pool, w
}

func serum(price domain.Price) domain.RawItem {
	return domain.RawItem{
		ExternalID: "anua-serum",
		Name:       "ANUA Peach 70 Niacinamide Serum 30ml",
		Brand:      "ANUA",
		Price:      price,
		ProductURL: "https://shopa.example/p/anua-serum",
		InStock:    true,
	}
}

func countPoints(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM price_points WHERE product_id = ?;`, productID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestIngestCreateThenUnchanged(t *testing.T) {
	db, w := setup(t)
	e := New(db, nil)
	ctx := context.Background()

	r1, err := e.Ingest(ctx, w, "run-1", serum(45900))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Outcome != Created || !r1.PriceRecorded {
		t.Fatalf("first = %+v", r1)
	}

	r2, err := e.Ingest(ctx, w, "run-2", serum(45900))
	if err != nil {
		t.Fatal(err)
	}
	if r2.Outcome != Unchanged || r2.PriceRecorded {
		t.Fatalf("second = %+v, want unchanged without price point", r2)
	}
	if n := countPoints(t, db, r1.ProductID); n != 1 {
		t.Errorf("price points = %d, want 1", n)
	}
}

func TestIngestPriceChangeAndStockFlip(t *testing.T) {
	db, w := setup(t)
	e := New(db, nil)
	ctx := context.Background()

	r1, _ := e.Ingest(ctx, w, "run-1", serum(45900))

	out := serum(45900)
	out.InStock = false
	r2, err := e.Ingest(ctx, w, "run-2", out)
	if err != nil {
		t.Fatal(err)
	}
	// stock is an attribute, not a price event
	if r2.Outcome != Updated || r2.PriceRecorded {
		t.Fatalf("stock flip = %+v", r2)
	}

	r3, err := e.Ingest(ctx, w, "run-3", serum(39900))
	if err != nil {
		t.Fatal(err)
	}
	if r3.Outcome != Updated || !r3.PriceRecorded {
		t.Fatalf("price change = %+v", r3)
	}

	p, err := store.GetProduct(ctx, db, r1.ProductID)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentPrice != 39900 || !p.InStock {
		t.Errorf("product = %+v", p)
	}

	drops, err := store.PriceDrops(ctx, db, store.DropQuery{Since: time.Now().Add(-24 * time.Hour), MinPercentage: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(drops) != 1 || drops[0].DropAmount != 6000 {
		t.Fatalf("drops = %+v", drops)
	}
}

func TestIngestOriginalPriceCountsAsPriceChange(t *testing.T) {
	db, w := setup(t)
	e := New(db, nil)
	ctx := context.Background()

	r1, _ := e.Ingest(ctx, w, "run-1", serum(39900))
	withOrig := serum(39900)
	orig := domain.Price(45900)
	withOrig.OriginalPrice = &orig
	r2, err := e.Ingest(ctx, w, "run-2", withOrig)
	if err != nil {
		t.Fatal(err)
	}
	if !r2.PriceRecorded {
		t.Fatal("original price change did not record a point")
	}
	if n := countPoints(t, db, r1.ProductID); n != 2 {
		t.Errorf("price points = %d, want 2", n)
	}
}

func TestIngestRejectsInvalidItem(t *testing.T) {
	db, w := setup(t)
	e := New(db, nil)

	bad := serum(0)
	_, err := e.Ingest(context.Background(), w, "run-1", bad)
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "price" {
		t.Fatalf("err = %v, want price parse error", err)
	}
}

func TestIngestConcurrentSameProduct(t *testing.T) {
	db, w := setup(t)
	e := New(db, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 8)
	errs := make([]error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Ingest(ctx, w, "run-1", serum(45900))
		}()
	}
	wg.Wait()

	created := 0
	for i, r := range results {
		if errs[i] != nil {
			t.Fatalf("ingest %d: %v", i, errs[i])
		}
		if r.Outcome == Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
	if n := countPoints(t, db, results[0].ProductID); n != 1 {
		t.Errorf("price points = %d, want 1", n)
	}
	if e.locks.size() != 0 {
		t.Errorf("lock entries leaked: %d", e.locks.size())
	}
}
