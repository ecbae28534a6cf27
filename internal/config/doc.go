// Package config loads, normalizes, and validates roster configuration data.
//
// It supplies repository defaults, finds the file (--config, ROSTER_CONFIG,
// the default path, ./roster.toml), expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ROSTER_DATABASE_URL, DATABASE_URL, and ROSTER_ORG_ID. Matching weights and
// thresholds are validated here so a bad file fails at load time instead of
// producing silently skewed links.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, a canonical driver name, and clear validation errors.
package config
