package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pricewatch-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// decodeJSON reads exactly one JSON value with no unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %v: %w", err, domain.ErrInvalid)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: trailing data: %w", domain.ErrInvalid)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, domain.ErrInvalid)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, domain.ErrInvalid)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number: %w", name, domain.ErrInvalid)
	}
	return &f, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func queryPrice(r *http.Request, name string) (*domain.Price, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	p, err := domain.ParseDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, domain.ErrInvalid)
	}
	return &p, nil
}

// queryIDs reads a comma separated id list, accepting the key repeated too.
func queryIDs(r *http.Request, name string) ([]int64, error) {
	var out []int64
	for _, v := range r.URL.Query()[name] {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s must be a list of integers: %w", name, domain.ErrInvalid)
			}
			out = append(out, id)
		}
	}
	return out, nil
}
