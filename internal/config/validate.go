package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.MatchingConfig().Validate(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path must be set when store.driver is sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("store.dsn is required for postgres. Set ROSTER_DATABASE_URL or edit %s (create with 'roster config init')", defaultPath)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want %q or %q)", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.StaleAfterSeconds < 0 {
		return errors.New("sync.stale_after_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
