// Package fetch retrieves pages for the extraction pipeline. A fetch either
// succeeds with a 2xx body or fails with an *Error that says whether a retry
// could help.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotReady means the page loaded but the wait-for selector never appeared.
var ErrNotReady = errors.New("wait-for selector not present")

type Request struct {
	URL string
	// WaitFor, when set, is a CSS selector that must be present before the
	// page counts as loaded.
	WaitFor string
}

type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Error is a failed fetch. Transient errors (timeouts, connection failures,
// 5xx, 429, not-ready pages) are worth retrying; others are not.
type Error struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch error worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient
}

func transientStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}

// Router sends requests with a wait-for hint to Browser when one is
// configured and everything else to HTTP.
type Router struct {
	HTTP    Fetcher
	Browser Fetcher
}

func (r Router) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.WaitFor != "" && r.Browser != nil {
		return r.Browser.Fetch(ctx, req)
	}
	return r.HTTP.Fetch(ctx, req)
}
