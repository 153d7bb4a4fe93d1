package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires every engine endpoint behind the shared middleware.
func NewRouter(d Deps) http.Handler {
	d.defaults()
	log := d.Logger

	r := chi.NewRouter()
	r.Use(RequestID, Recover(log), AccessLog(log), Cors)

	hh := HealthHandler{DB: d.DB, Hub: d.Hub, Now: d.Now}
	r.Get("/health", hh.Health)

	// Engine config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
		OnChange:    d.OnConfigChange,
	}
	r.Get("/config", ch.Get)
	r.Put("/config", ch.Put)
	r.Get("/config/path", ch.Path)
	r.Get("/config/validate", ch.Validate)

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	r.Get("/events", eh.ServeSSE)

	dh := DBHandler{DB: d.DB, Log: log}
	r.Post("/db/checkpoint", dh.Checkpoint)

	wh := WebsitesHandler{DB: d.DB, Log: log, Now: d.Now}
	sch := ScraperConfigHandler{Resolver: d.Resolver, Log: log}
	rh := ScrapeHandler{DB: d.DB, Crawl: d.Crawl, Log: log}
	cat := CatalogHandler{DB: d.DB, Search: d.Search, CfgVal: d.CfgVal, Log: log, Now: d.Now}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/websites", wh.List)
		r.Post("/websites", wh.Create)
		r.Route("/websites/{websiteID}", func(r chi.Router) {
			r.Get("/", wh.Get)
			r.Patch("/", wh.Patch)
			r.Delete("/", wh.Delete)

			r.Get("/config", sch.Active)
			r.Put("/config", sch.Put)
			r.Get("/config/history", sch.History)

			r.Get("/runs", rh.List)
			r.Post("/runs", rh.Run)
			r.Get("/runs/current", rh.Status)
			r.Post("/runs/stop", rh.Stop)
		})

		r.Get("/runs", rh.List)
		r.Get("/runs/{runID}", rh.Get)

		r.Get("/products/{productID}/history", cat.PriceHistory)
		r.Get("/search", cat.SearchProducts)
		r.Get("/search/suggestions", cat.Suggestions)
		r.Get("/drops", cat.Drops)
	})

	return r
}
