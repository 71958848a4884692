// Package config loads runtime configuration for the PhotoNest sync
// core.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c/-config.
//  3. Command-line flags, which override earlier values.
package config

import "time"

// Config holds runtime settings for the sync core and its local server.
type Config struct {
	ListenAddr    string // address of the local REST/WebSocket server
	RemoteBaseURL string // base URL of the remote indexing service
	DataDir       string // location of the embedded SQLite store

	ProbeActiveInterval time.Duration // connectivity probe interval while active
	ProbeIdleInterval   time.Duration // connectivity probe interval when idle

	CacheBudgetBytes int64         // approximate cache memory budget
	EvictionInterval time.Duration // cache budget check interval

	MaxAttempts int // replay attempts before dead-lettering
	SyncWorkers int // bounded drain worker pool size

	DiagnosticsCapacity int // diagnostics ring buffer size
	MaxSearchResults    int // offline search result cap
	ThumbnailMaxEdge    int // longest thumbnail edge kept in cache
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:8190"
	c.RemoteBaseURL = "http://127.0.0.1:9400"
	c.DataDir = "./data"
	c.ProbeActiveInterval = 1200 * time.Millisecond
	c.ProbeIdleInterval = 15 * time.Second
	c.CacheBudgetBytes = 64 << 20
	c.EvictionInterval = 30 * time.Second
	c.MaxAttempts = 8
	c.SyncWorkers = 3
	c.DiagnosticsCapacity = 50
	c.MaxSearchResults = 50
	c.ThumbnailMaxEdge = 512
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags. Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
