package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"pricewatch-engine/internal/events"
)

type HealthHandler struct {
	DB  *sql.DB
	Hub *events.Hub
	Now func() time.Time
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": err.Error()})
		return
	}
	writeJSON(w, map[string]any{
		"ok":          true,
		"time":        h.Now().UTC().Format(time.RFC3339),
		"subscribers": h.Hub.Subscribers(),
	})
}
