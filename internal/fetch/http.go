package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBody = 16 << 20

// HTTPFetcher performs plain GETs. It cannot run scripts, so a wait-for
// selector is checked against the returned HTML and a miss is reported as a
// transient not-ready error.
type HTTPFetcher struct {
	client  *http.Client
	ua      string
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*HTTPFetcher)

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.ua = ua }
}

// WithTimeout bounds each individual fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

func NewHTTP(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{},
		ua:      "PriceWatch/1.0 (+local)",
		timeout: 20 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, r Request) (*Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, &Error{URL: r.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: r.URL, Transient: isTransientErr(ctx, err), Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, &Error{URL: r.URL, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	f.logger.Debug("fetch", "url", r.URL, "status", res.StatusCode, "bytes", len(body),
		"dur_ms", time.Since(start).Milliseconds())

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &Error{URL: r.URL, StatusCode: res.StatusCode, Transient: transientStatus(res.StatusCode)}
	}

	if r.WaitFor != "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, &Error{URL: r.URL, Err: fmt.Errorf("parse html: %w", err)}
		}
		if doc.Find(r.WaitFor).Length() == 0 {
			return nil, &Error{URL: r.URL, Transient: true, Err: ErrNotReady}
		}
	}

	return &Response{
		URL:         res.Request.URL.String(),
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func isTransientErr(ctx context.Context, err error) bool {
	// the caller's own cancellation is not a network problem
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return ctx.Err() == nil
}
