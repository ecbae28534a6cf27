package preflight

import (
	"context"

	"roster/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckMatching(cfg.MatchingConfig())}

	// Opening the store creates the SQLite directory, so it runs first.
	results = append(results, CheckStore(ctx, cfg))

	if dir := cfg.StoreDir(); dir != "" {
		results = append(results,
			CheckDirectoryAccess("Data directory", dir),
			CheckFreeSpace("Data disk space", dir, MinFreeBytes),
		)
	}

	if cfg.Logging.Dir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Logging.Dir))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
