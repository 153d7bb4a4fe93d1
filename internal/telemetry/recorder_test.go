package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/events"
	"pricewatch-engine/internal/fetch"
	"pricewatch-engine/internal/ingest"
	"pricewatch-engine/internal/store"
)

func TestClassify(t *testing.T) {
	at := time.Now()
	cases := []struct {
		err  error
		kind domain.ErrorKind
	}{
		{&domain.ConfigError{Field: "selectors.item", Message: "is required"}, domain.KindConfig},
		{domain.ConfigErrors{{Field: "selectors.name", Message: "x"}}, domain.KindConfig},
		{fmt.Errorf("page: %w", &fetch.Error{URL: "http://x/2", StatusCode: 503, Transient: true}), domain.KindFetch},
		{&domain.ParseError{URL: "http://x", Field: "price", Selector: ".price", Message: "unparsable"}, domain.KindParse},
		{errors.New("disk full"), domain.KindFatal},
	}
	for _, c := range cases {
		if got := Classify(c.err, at); got.Kind != c.kind {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got.Kind, c.kind)
		}
	}

	re := Classify(&fetch.Error{URL: "http://x/2", StatusCode: 503}, at)
	if re.URL != "http://x/2" || re.Status != 503 {
		t.Errorf("fetch error detail lost: %+v", re)
	}
}

func TestRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	d, err := store.Open(filepath.Join(t.TempDir(), "t.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := store.Migrate(d.Pool); err != nil {
		t.Fatal(err)
	}
	w, err := store.CreateWebsite(ctx, d.Pool, domain.Website{Name: "s", BaseURL: "https://s.example"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	hub := events.NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	rec := NewRecorder(d.Pool, hub, nil, domain.CrawlRun{
		ID: "r1", WebsiteID: w.ID, Status: domain.RunQueued, TriggeredBy: "manual", StartedAt: time.Now(),
	})
	if err := rec.Create(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(ctx); err != nil {
		t.Fatal(err)
	}
	rec.Page(true)
	rec.Page(false)
	rec.Item(ingest.Result{Outcome: ingest.Created, PriceRecorded: true})
	rec.Item(ingest.Result{Outcome: ingest.Unchanged})
	rec.ItemError(&domain.ParseError{Field: "price", Message: "bad"})

	run, err := rec.Finish(ctx, domain.RunStopped, json.RawMessage(`{"kind":"listing"}`))
	if err != nil {
		t.Fatal(err)
	}
	// frozen: ignored
	rec.Item(ingest.Result{Outcome: ingest.Created})

	got, err := store.GetRun(ctx, d.Pool, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunStopped || got.ProductsFound != 2 || got.ProductsCreated != 1 ||
		got.PricesRecorded != 1 || got.PagesScraped != 1 || got.ItemErrors != 1 || len(got.Errors) != 1 {
		t.Errorf("persisted run = %+v", got)
	}
	if rec.Snapshot().ProductsFound != run.ProductsFound {
		t.Error("counters changed after finish")
	}
	if string(got.Cursor) != `{"kind":"listing"}` {
		t.Errorf("cursor = %s", got.Cursor)
	}

	var types []string
	for len(sub) > 0 {
		var e events.Event
		json.Unmarshal([]byte(<-sub), &e)
		types = append(types, e.Type)
	}
	want := []string{events.RunQueued, events.RunStarted, events.RunFinished}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}
