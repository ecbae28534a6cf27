package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeTenant()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	if c.Sync.StaleAfterSeconds == 0 {
		c.Sync.StaleAfterSeconds = defaultSyncStaleAfterSec
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "postgresql", "pgx":
		c.Store.Driver = DriverPostgres
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	}

	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		for _, key := range []string{"ROSTER_DATABASE_URL", "DATABASE_URL"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Store.DSN = strings.TrimSpace(value)
				break
			}
		}
	}
	if c.Store.DSN != "" && c.Store.Driver == DriverSQLite && looksLikePostgresDSN(c.Store.DSN) {
		c.Store.Driver = DriverPostgres
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	var err error
	if c.Store.Path, err = expandPath(strings.TrimSpace(c.Store.Path)); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	if c.Store.BusyTimeoutMS <= 0 {
		c.Store.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	return nil
}

func looksLikePostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func (c *Config) normalizeTenant() {
	c.Tenant.OrgID = strings.TrimSpace(c.Tenant.OrgID)
	if c.Tenant.OrgID == "" {
		if value, ok := os.LookupEnv("ROSTER_ORG_ID"); ok {
			c.Tenant.OrgID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) != "" {
		var err error
		if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
			return fmt.Errorf("logging.dir: %w", err)
		}
	}
	return nil
}
