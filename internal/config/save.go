package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func Validate(cfg Config) error {
	_, res := NormalizeAndValidate(cfg)
	if !res.OK() {
		return errors.New("config validation failed:\n- " + strings.Join(res.Errors, "\n- "))
	}
	return nil
}

// SaveAtomic validates cfg and replaces the file at path, keeping the
// previous version as path.bak.
func SaveAtomic(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}

// Setting names reported by Diff, as they appear in the YAML file.
const (
	KeyApp           = "app"
	KeyCrawl         = "crawl"
	KeyIngest        = "ingest"
	KeySearch        = "search"
	KeyDrops         = "drops"
	KeyRunLogDays    = "retention.run_log_days"
	KeyPruneInterval = "retention.prune_every_minutes"
	KeySitesFile     = "sites_file"
)

// liveKeys take effect on a running engine: drops defaults are read per
// request, retention per prune, and the sites file is re-applied on change.
// The rest are baked into the server, orchestrator or scorer at start.
var liveKeys = map[string]bool{
	KeyDrops:      true,
	KeyRunLogDays: true,
	KeySitesFile:  true,
}

// Reload describes what a config save changed on a running engine.
type Reload struct {
	Applied         []string `json:"applied"`
	RestartRequired []string `json:"restart_required"`
}

func (r Reload) Has(key string) bool {
	for _, k := range r.Applied {
		if k == key {
			return true
		}
	}
	return false
}

// Diff compares two normalized configs.
func Diff(prev, next Config) Reload {
	changed := map[string]bool{
		KeyApp:           prev.App != next.App,
		KeyCrawl:         prev.Crawl != next.Crawl,
		KeyIngest:        prev.Ingest != next.Ingest,
		KeySearch:        prev.Search != next.Search,
		KeyDrops:         prev.Drops != next.Drops,
		KeyRunLogDays:    prev.Retention.RunLogDays != next.Retention.RunLogDays,
		KeyPruneInterval: prev.Retention.PruneEveryMinutes != next.Retention.PruneEveryMinutes,
		KeySitesFile:     prev.SitesFile != next.SitesFile,
	}
	r := Reload{Applied: []string{}, RestartRequired: []string{}}
	for _, k := range []string{KeyApp, KeyCrawl, KeyIngest, KeySearch, KeyDrops, KeyRunLogDays, KeyPruneInterval, KeySitesFile} {
		switch {
		case !changed[k]:
		case liveKeys[k]:
			r.Applied = append(r.Applied, k)
		default:
			r.RestartRequired = append(r.RestartRequired, k)
		}
	}
	return r
}
