package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pricewatch-engine/internal/crawl"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/store"
)

type ScrapeHandler struct {
	DB    *sql.DB
	Crawl Crawler
	Log   *slog.Logger
}

// Run triggers a crawl of the website. The body (crawl options) is optional.
func (h ScrapeHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	var opts crawl.Options
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			writeErr(w, r, h.Log, fmt.Errorf("invalid JSON: %v: %w", err, domain.ErrInvalid))
			return
		}
	}
	if opts.MaxPages < 0 {
		writeErr(w, r, h.Log, fmt.Errorf("max_pages must be >= 0: %w", domain.ErrInvalid))
		return
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "api"
	}

	run, err := h.Crawl.Trigger(r.Context(), id, opts)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, run)
}

func (h ScrapeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	run, err := h.Crawl.Stop(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, run)
}

// Status returns the live state of the website's active run, or its most
// recent run when nothing is active.
func (h ScrapeHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if run, ok := h.Crawl.Active(id); ok {
		writeJSON(w, run)
		return
	}
	run, err := store.LatestRun(r.Context(), h.DB, id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, run)
}

// List serves the run log, newest first, optionally for one website.
func (h ScrapeHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.RunFilter
	var err error
	if s := chi.URLParam(r, "websiteID"); s != "" {
		if f.WebsiteID, err = pathID(r, "websiteID"); err != nil {
			writeErr(w, r, h.Log, err)
			return
		}
	} else if f.WebsiteID, err = int64Query(r, "website_id"); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = domain.RunStatus(s)
		if !f.Status.Valid() {
			writeErr(w, r, h.Log, fmt.Errorf("unknown status %q: %w", s, domain.ErrInvalid))
			return
		}
	}
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	f.Limit = min(max(f.Limit, 1), 500)
	f.Offset = max(f.Offset, 0)

	runs, total, err := store.ListRuns(r.Context(), h.DB, f)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if runs == nil {
		runs = []domain.CrawlRun{}
	}
	writeJSON(w, runsPage{Runs: runs, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h ScrapeHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := store.GetRun(r.Context(), h.DB, chi.URLParam(r, "runID"))
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, run)
}

func int64Query(r *http.Request, name string) (int64, error) {
	ids, err := queryIDs(r, name)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}
