package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserFetcher renders pages in headless Chrome and, when a wait-for
// selector is given, treats the page as ready once that element exists.
// Chrome is launched on first use.
type BrowserFetcher struct {
	RemoteURL string // connect to an existing DevTools endpoint instead of launching
	Timeout   time.Duration
	Logger    *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewBrowser(remoteURL string, timeout time.Duration, logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{RemoteURL: remoteURL, Timeout: timeout, Logger: logger}
}

func (b *BrowserFetcher) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.Logger.Info("browser: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br
	return br, nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, r Request) (*Response, error) {
	br, err := b.ensure()
	if err != nil {
		return nil, &Error{URL: r.URL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	page, err := br.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, &Error{URL: r.URL, Transient: true, Err: fmt.Errorf("browser: create tab: %w", err)}
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.Navigate(r.URL); err != nil {
		return nil, &Error{URL: r.URL, Transient: true, Err: fmt.Errorf("browser: navigate: %w", err)}
	}

	if r.WaitFor != "" {
		// Element polls until the selector matches or ctx expires
		if _, err := page.Element(r.WaitFor); err != nil {
			return nil, &Error{URL: r.URL, Transient: true, Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
		}
	} else if err := page.WaitLoad(); err != nil {
		b.Logger.Warn("browser: wait load", "url", r.URL, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &Error{URL: r.URL, Transient: true, Err: fmt.Errorf("browser: get DOM: %w", err)}
	}

	final := r.URL
	if info, err := page.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	return &Response{URL: final, StatusCode: 200, ContentType: "text/html", Body: []byte(html)}, nil
}

func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}
