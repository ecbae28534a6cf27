package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"roster/internal/matching"
)

//go:embed sample_config.toml
var sampleConfig string

// Store selects and locates the relational backend.
type Store struct {
	Driver        string `toml:"driver"`
	Path          string `toml:"path"`
	DSN           string `toml:"dsn"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// Matching contains scorer weights, classification thresholds, and run policy.
type Matching struct {
	Weights    matching.Weights    `toml:"weights"`
	Thresholds matching.Thresholds `toml:"thresholds"`
	// ExclusiveRuns wraps each matching run in the watermark lock so two
	// drivers cannot evaluate the same organization concurrently.
	ExclusiveRuns bool `toml:"exclusive_runs"`
}

// Sync contains watermark lock settings.
type Sync struct {
	StaleAfterSeconds int `toml:"stale_after_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Tenant names the organization commands act on when --org is omitted.
type Tenant struct {
	OrgID string `toml:"org_id"`
}

// Config encapsulates all configuration values for roster.
//
// Configuration sections:
//   - Store: backend driver, SQLite path or PostgreSQL DSN
//   - Matching: scorer weights and thresholds
//   - Sync: stale lock recovery
//   - Logging: log format, level, and optional file output
//   - Tenant: default organization
type Config struct {
	Store    Store    `toml:"store"`
	Matching Matching `toml:"matching"`
	Sync     Sync     `toml:"sync"`
	Logging  Logging  `toml:"logging"`
	Tenant   Tenant   `toml:"tenant"`
}

// ConfigEnv names an environment variable that points at the config file
// when --config is not given.
const ConfigEnv = "ROSTER_CONFIG"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Lookup order is
// path, $ROSTER_CONFIG, the default path, then ./roster.toml; when none
// exists the defaults are used and exists is false. Unknown keys are
// rejected so a typo never silently falls back to a default.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	resolved, exists, err = locate(path)
	if err != nil {
		return nil, "", false, err
	}

	loaded := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", resolved, err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
		if err := dec.Decode(&loaded); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("config %s: unknown keys:\n%s", resolved, strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolved, exists, nil
}

// locate picks the config file. An explicit path (flag or env) is returned
// even when missing so callers can report where they looked.
func locate(explicit string) (string, bool, error) {
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(ConfigEnv))
	}
	if explicit != "" {
		expanded, err := expandPath(explicit)
		if err != nil {
			return "", false, err
		}
		found, err := isFile(expanded)
		return expanded, found, err
	}

	fallback, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	project, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{fallback, project} {
		found, err := isFile(candidate)
		if err != nil {
			return "", false, err
		}
		if found {
			return candidate, true, nil
		}
	}
	return fallback, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates the directories the configured backend and log
// output need.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Store.Driver == DriverSQLite && c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Logging.Dir != "" {
		dirs = append(dirs, c.Logging.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MatchingConfig returns the evaluator configuration.
func (c *Config) MatchingConfig() matching.Config {
	return matching.Config{
		Weights:    c.Matching.Weights,
		Thresholds: c.Matching.Thresholds,
	}
}

// StoreDir returns the directory holding the SQLite database, or "" for
// PostgreSQL.
func (c *Config) StoreDir() string {
	if c.Store.Driver != DriverSQLite || c.Store.Path == "" {
		return ""
	}
	return filepath.Dir(c.Store.Path)
}

// expandPath resolves a leading ~ against the home directory and makes the
// result absolute.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}

// ExpandPath exposes the path expansion rules used for config values.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

// CreateSample writes the annotated sample configuration to path, creating
// parent directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
