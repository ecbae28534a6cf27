// Package logging assembles structured slog loggers and formatting helpers used
// across roster.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so store and matching code can
// tag log lines with organization and run identifiers. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits the same field names (component, org_id, link_id, source, error_kind).
package logging
