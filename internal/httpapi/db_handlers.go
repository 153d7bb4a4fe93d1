package httpapi

import (
	"database/sql"
	"log/slog"
	"net"
	"net/http"
)

type DBHandler struct {
	DB  *sql.DB
	Log *slog.Logger
}

// Checkpoint folds the WAL into the main database file. Loopback only.
func (h DBHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host != "127.0.0.1" && host != "::1" && host != "localhost" {
		WriteError(w, r, http.StatusForbidden, "forbidden", "checkpoint is only allowed from loopback")
		return
	}

	if _, err := h.DB.ExecContext(r.Context(), `PRAGMA wal_checkpoint(FULL);`); err != nil {
		writeErr(w, r, h.Log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
