package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/resolver"
	"pricewatch-engine/internal/store"
)

type WebsitesHandler struct {
	DB  *sql.DB
	Log *slog.Logger
	Now func() time.Time
}

func (h WebsitesHandler) List(w http.ResponseWriter, r *http.Request) {
	sites, err := store.ListWebsites(r.Context(), h.DB, queryBool(r, "active"))
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if sites == nil {
		sites = []domain.Website{}
	}
	writeJSON(w, sites)
}

func (h WebsitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req websiteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	site := domain.Website{
		Name:        req.Name,
		BaseURL:     req.BaseURL,
		ScraperType: req.ScraperType,
		Currency:    req.Currency,
		IsActive:    true,
		RateLimitMS: domain.DefaultRateLimitMS,
	}
	if req.IsActive != nil {
		site.IsActive = *req.IsActive
	}
	if req.RateLimitMS != nil {
		site.RateLimitMS = *req.RateLimitMS
	}
	site, err := store.CreateWebsite(r.Context(), h.DB, site, h.Now())
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, site)
}

func (h WebsitesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	site, err := store.GetWebsite(r.Context(), h.DB, id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, site)
}

func (h WebsitesHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	var p store.WebsitePatch
	if err := decodeJSON(r, &p); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	site, err := store.UpdateWebsite(r.Context(), h.DB, id, p, h.Now())
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, site)
}

func (h WebsitesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if err := store.DeleteWebsite(r.Context(), h.DB, id); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScraperConfigHandler serves the versioned scraper configs of a website.
type ScraperConfigHandler struct {
	Resolver *resolver.Resolver
	Log      *slog.Logger
}

func (h ScraperConfigHandler) Active(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	cfg, err := h.Resolver.ResolveActive(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	writeJSON(w, cfg)
}

// Put stores the body as the website's new active config version.
func (h ScraperConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	var cfg domain.ScraperConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	cfg.WebsiteID = id
	saved, err := h.Resolver.Save(r.Context(), cfg)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

func (h ScraperConfigHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "websiteID")
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	cfgs, err := h.Resolver.History(r.Context(), id)
	if err != nil {
		writeErr(w, r, h.Log, err)
		return
	}
	if cfgs == nil {
		cfgs = []domain.ScraperConfig{}
	}
	writeJSON(w, cfgs)
}
