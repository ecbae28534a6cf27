package config

import "roster/internal/matching"

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultConfigPath        = "~/.config/roster/config.toml"
	projectConfigName        = "roster.toml"
	defaultStoreDriver       = DriverSQLite
	defaultStorePath         = "~/.local/share/roster/roster.db"
	defaultBusyTimeoutMS     = 5000
	defaultSyncStaleAfterSec = 3600
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	match := matching.DefaultConfig()
	return Config{
		Store: Store{
			Driver:        defaultStoreDriver,
			Path:          defaultStorePath,
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Matching: Matching{
			Weights:    match.Weights,
			Thresholds: match.Thresholds,
		},
		Sync: Sync{
			StaleAfterSeconds: defaultSyncStaleAfterSec,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
