// Package preflight provides readiness checks for the database and the
// filesystem paths roster depends on.
//
// The CLI "roster doctor" command runs RunAll and prints one line per
// check. Checks that do not apply to the configured backend are skipped:
// directory and free-space checks only run for SQLite and file logging.
package preflight
