package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"pricewatch-engine/internal/crawl"
	"pricewatch-engine/internal/domain"
	"pricewatch-engine/internal/store"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
		Details   any    `json:"details,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	e.Error.Details = details
	WriteJSON(w, status, e)
}

// writeErr maps engine errors onto HTTP statuses. Anything unrecognized is
// logged and reported as a 500 without its message.
func writeErr(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		ce  *domain.ConfigError
		ces domain.ConfigErrors
	)
	switch {
	case errors.As(err, &ces):
		writeErrorDetails(w, r, http.StatusUnprocessableEntity, "invalid_config", err.Error(), ces)
	case errors.As(err, &ce):
		writeErrorDetails(w, r, http.StatusUnprocessableEntity, "invalid_config", err.Error(), domain.ConfigErrors{ce})
	case errors.Is(err, store.ErrWebsiteInUse):
		WriteError(w, r, http.StatusConflict, "website_in_use", err.Error())
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalid):
		WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, crawl.ErrClosed):
		WriteError(w, r, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		log.Error("request failed", "request_id", RequestIDFrom(r.Context()), "method", r.Method, "path", r.URL.Path, "err", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
