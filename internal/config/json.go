package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/minaksy/photonest/internal/logging"
)

// fileConfig mirrors Config with JSON tags. Durations are expressed as
// strings like "30s".
type fileConfig struct {
	ListenAddr          *string `json:"listen_addr"`
	RemoteBaseURL       *string `json:"remote_base_url"`
	DataDir             *string `json:"data_dir"`
	ProbeActiveInterval *string `json:"probe_active_interval"`
	ProbeIdleInterval   *string `json:"probe_idle_interval"`
	CacheBudgetBytes    *int64  `json:"cache_budget_bytes"`
	EvictionInterval    *string `json:"eviction_interval"`
	MaxAttempts         *int    `json:"max_attempts"`
	SyncWorkers         *int    `json:"sync_workers"`
	DiagnosticsCapacity *int    `json:"diagnostics_capacity"`
	MaxSearchResults    *int    `json:"max_search_results"`
	ThumbnailMaxEdge    *int    `json:"thumbnail_max_edge"`
}

// parseJSON overlays values from the config file named by -c/-config,
// if any. A missing file is not an error; an unreadable one is logged
// and skipped.
func parseJSON(cfg *Config) {
	path := configFilePath()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn("Failed to read config file",
			map[string]interface{}{"path": path, "error": err.Error()})
		return
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		logging.Warn("Failed to parse config file",
			map[string]interface{}{"path": path, "error": err.Error()})
		return
	}

	if fc.ListenAddr != nil {
		cfg.ListenAddr = *fc.ListenAddr
	}
	if fc.RemoteBaseURL != nil {
		cfg.RemoteBaseURL = *fc.RemoteBaseURL
	}
	if fc.DataDir != nil {
		cfg.DataDir = *fc.DataDir
	}
	applyDuration(&cfg.ProbeActiveInterval, fc.ProbeActiveInterval, path)
	applyDuration(&cfg.ProbeIdleInterval, fc.ProbeIdleInterval, path)
	applyDuration(&cfg.EvictionInterval, fc.EvictionInterval, path)
	if fc.CacheBudgetBytes != nil {
		cfg.CacheBudgetBytes = *fc.CacheBudgetBytes
	}
	if fc.MaxAttempts != nil {
		cfg.MaxAttempts = *fc.MaxAttempts
	}
	if fc.SyncWorkers != nil {
		cfg.SyncWorkers = *fc.SyncWorkers
	}
	if fc.DiagnosticsCapacity != nil {
		cfg.DiagnosticsCapacity = *fc.DiagnosticsCapacity
	}
	if fc.MaxSearchResults != nil {
		cfg.MaxSearchResults = *fc.MaxSearchResults
	}
	if fc.ThumbnailMaxEdge != nil {
		cfg.ThumbnailMaxEdge = *fc.ThumbnailMaxEdge
	}
}

func applyDuration(dst *time.Duration, src *string, path string) {
	if src == nil {
		return
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		logging.Warn("Invalid duration in config file",
			map[string]interface{}{"path": path, "value": *src})
		return
	}
	*dst = d
}

// configFilePath scans os.Args for -c/-config without disturbing the
// main flag set, so JSON is applied before flags override it.
func configFilePath() string {
	args := os.Args[1:]
	for i, arg := range args {
		switch arg {
		case "-c", "-config", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return os.Getenv("PHOTONEST_CONFIG")
}
