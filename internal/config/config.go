// engine/internal/config/config.go
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		DataDir  string `yaml:"data_dir"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Crawl struct {
		Workers                int    `yaml:"workers"`
		RunTimeoutMinutes      int    `yaml:"run_timeout_minutes"`
		FetchTimeoutSeconds    int    `yaml:"fetch_timeout_seconds"`
		FetchRetries           int    `yaml:"fetch_retries"`
		RetryInitialMS         int    `yaml:"retry_initial_ms"`
		RetryMaxMS             int    `yaml:"retry_max_ms"`
		MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
		UserAgent              string `yaml:"user_agent"`
		BrowserEnabled         bool   `yaml:"browser_enabled"`
		BrowserURL             string `yaml:"browser_url"`
	} `yaml:"crawl"`

	Ingest struct {
		StaleAfterRuns int `yaml:"stale_after_runs"`
	} `yaml:"ingest"`

	Search struct {
		MinScore   float64 `yaml:"min_score"`
		SetWeight  float64 `yaml:"set_weight"`
		SortWeight float64 `yaml:"sort_weight"`
	} `yaml:"search"`

	Drops struct {
		WindowHours   int     `yaml:"window_hours"`
		MinPercentage float64 `yaml:"min_percentage"`
		Limit         int     `yaml:"limit"`
	} `yaml:"drops"`

	Retention struct {
		RunLogDays        int `yaml:"run_log_days"`
		PruneEveryMinutes int `yaml:"prune_every_minutes"`
	} `yaml:"retention"`

	SitesFile string `yaml:"sites_file"`
}

// Default is the configuration used for every key the file leaves out.
func Default() Config {
	var c Config
	c.App.Host = "127.0.0.1"
	c.App.Port = 38471
	c.App.LogLevel = "info"
	c.Crawl.Workers = 4
	c.Crawl.RunTimeoutMinutes = 30
	c.Crawl.FetchTimeoutSeconds = 20
	c.Crawl.FetchRetries = 3
	c.Crawl.RetryInitialMS = 500
	c.Crawl.RetryMaxMS = 10000
	c.Crawl.MaxConsecutiveFailures = 10
	c.Crawl.UserAgent = "pricewatch/1.0 (+price monitoring)"
	c.Ingest.StaleAfterRuns = 3
	c.Search.MinScore = 0.3
	c.Search.SetWeight = 0.85
	c.Search.SortWeight = 0.15
	c.Drops.WindowHours = 24
	c.Drops.MinPercentage = 5
	c.Drops.Limit = 50
	c.Retention.RunLogDays = 90
	c.Retention.PruneEveryMinutes = 60
	c.SitesFile = "sites.yml"
	return c
}

func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Crawl.RunTimeoutMinutes) * time.Minute
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawl.FetchTimeoutSeconds) * time.Second
}

func (c Config) RetryInitial() time.Duration {
	return time.Duration(c.Crawl.RetryInitialMS) * time.Millisecond
}

func (c Config) RetryMax() time.Duration {
	return time.Duration(c.Crawl.RetryMaxMS) * time.Millisecond
}

func (c Config) DropWindow() time.Duration {
	return time.Duration(c.Drops.WindowHours) * time.Hour
}

func (c Config) RunLogRetention() time.Duration {
	return time.Duration(c.Retention.RunLogDays) * 24 * time.Hour
}

func (c Config) PruneInterval() time.Duration {
	return time.Duration(c.Retention.PruneEveryMinutes) * time.Minute
}
