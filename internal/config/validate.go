package config

import (
	"fmt"
	"net/url"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy of cfg along with every
// problem found.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.App.Host = strings.TrimSpace(out.App.Host)
	out.App.LogLevel = strings.ToLower(strings.TrimSpace(out.App.LogLevel))
	out.Crawl.UserAgent = strings.TrimSpace(out.Crawl.UserAgent)
	out.Crawl.BrowserURL = strings.TrimSpace(out.Crawl.BrowserURL)
	out.SitesFile = strings.TrimSpace(out.SitesFile)

	// ---- Validation rules ----

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	switch out.App.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		res.addErr("app.log_level must be one of debug, info, warn, error")
	}
	if out.App.Host != "" && out.App.Host != "127.0.0.1" && out.App.Host != "localhost" && out.App.Host != "::1" {
		res.addWarn("app.host is %q; the engine API has no authentication.", out.App.Host)
	}

	// crawl sanity
	if out.Crawl.Workers <= 0 {
		res.addErr("crawl.workers must be > 0")
	} else if out.Crawl.Workers > 32 {
		res.addWarn("crawl.workers is %d; each worker may hold a browser page.", out.Crawl.Workers)
	}
	if out.Crawl.RunTimeoutMinutes <= 0 {
		res.addErr("crawl.run_timeout_minutes must be > 0")
	}
	if out.Crawl.FetchTimeoutSeconds <= 0 {
		res.addErr("crawl.fetch_timeout_seconds must be > 0")
	}
	if out.Crawl.FetchRetries < 0 {
		res.addErr("crawl.fetch_retries must be >= 0")
	} else if out.Crawl.FetchRetries > 10 {
		res.addWarn("crawl.fetch_retries is %d; failing sites will take a long time to give up.", out.Crawl.FetchRetries)
	}
	if out.Crawl.RetryInitialMS <= 0 || out.Crawl.RetryMaxMS <= 0 {
		res.addErr("crawl.retry_initial_ms and crawl.retry_max_ms must be > 0")
	} else if out.Crawl.RetryInitialMS > out.Crawl.RetryMaxMS {
		res.addErr("crawl.retry_initial_ms cannot exceed crawl.retry_max_ms")
	}
	if out.Crawl.MaxConsecutiveFailures <= 0 {
		res.addErr("crawl.max_consecutive_failures must be > 0")
	}
	if out.Crawl.UserAgent == "" {
		res.addWarn("crawl.user_agent is empty; some sites reject requests without one.")
	}
	if out.Crawl.BrowserURL != "" {
		if u, err := url.Parse(out.Crawl.BrowserURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http") {
			res.addErr("crawl.browser_url must be a ws:// or http:// DevTools endpoint")
		}
		if !out.Crawl.BrowserEnabled {
			res.addWarn("crawl.browser_url is set but crawl.browser_enabled is false.")
		}
	}

	if out.Ingest.StaleAfterRuns <= 0 {
		res.addErr("ingest.stale_after_runs must be > 0")
	}

	// search weights
	if out.Search.MinScore < 0 || out.Search.MinScore > 1 {
		res.addErr("search.min_score must be within [0, 1]")
	}
	if out.Search.SetWeight < 0 || out.Search.SortWeight < 0 || out.Search.SetWeight+out.Search.SortWeight == 0 {
		res.addErr("search.set_weight and search.sort_weight must be >= 0 and not both 0")
	}

	if out.Drops.WindowHours <= 0 {
		res.addErr("drops.window_hours must be > 0")
	}
	if out.Drops.MinPercentage < 0 || out.Drops.MinPercentage >= 100 {
		res.addErr("drops.min_percentage must be within [0, 100)")
	}
	if out.Drops.Limit <= 0 {
		res.addErr("drops.limit must be > 0")
	}

	if out.Retention.RunLogDays <= 0 {
		res.addErr("retention.run_log_days must be > 0")
	} else if out.Retention.RunLogDays < 7 {
		res.addWarn("retention.run_log_days is %d; run history will be short.", out.Retention.RunLogDays)
	}
	if out.Retention.PruneEveryMinutes <= 0 {
		res.addErr("retention.prune_every_minutes must be > 0")
	}

	return out, res
}
