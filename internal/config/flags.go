package config

import (
	"flag"
	"os"
	"time"
)

func argsWithoutProgram() []string {
	if len(os.Args) > 1 {
		return os.Args[1:]
	}
	return nil
}

// parseFlags overlays command-line flags onto cfg. Flags win over both
// defaults and the JSON file.
func parseFlags(cfg *Config) {
	var (
		configFile string
		listenAddr string
		remoteURL  string
		dataDir    string
		probeSecs  float64
		budgetMB   int64
		workers    int
	)

	fs := flag.NewFlagSet("photonest", flag.ContinueOnError)
	fs.StringVar(&configFile, "c", "", "path to JSON config file")
	fs.StringVar(&configFile, "config", "", "path to JSON config file")
	fs.StringVar(&listenAddr, "l", "", "listen address of the local server")
	fs.StringVar(&remoteURL, "r", "", "base URL of the remote indexing service")
	fs.StringVar(&dataDir, "d", "", "data directory for the embedded store")
	fs.Float64Var(&probeSecs, "probe", 0, "active connectivity probe interval (seconds)")
	fs.Int64Var(&budgetMB, "cache-budget", 0, "cache memory budget (MiB)")
	fs.IntVar(&workers, "workers", 0, "drain worker pool size")

	if err := fs.Parse(argsWithoutProgram()); err != nil {
		return
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if remoteURL != "" {
		cfg.RemoteBaseURL = remoteURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if probeSecs > 0 {
		cfg.ProbeActiveInterval = time.Duration(probeSecs * float64(time.Second))
	}
	if budgetMB > 0 {
		cfg.CacheBudgetBytes = budgetMB << 20
	}
	if workers > 0 {
		cfg.SyncWorkers = workers
	}
}
