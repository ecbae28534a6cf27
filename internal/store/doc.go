// Package store persists people, identities, person-identity links, audit
// events, and sync watermarks in a relational database.
//
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL is reached
// through pgx's database/sql driver. Both share one schema and one set of
// queries: statements are written with '?' placeholders and rebound for
// PostgreSQL. Timestamps are stored as fixed-width UTC text so ordering and
// range comparisons behave identically in both dialects.
//
// Every state transition is a single conditional UPDATE whose WHERE clause
// encodes the precondition (active link, conflict status, lock not held), so
// concurrent callers race on the row itself and the loser sees zero rows.
// A partial unique index enforces at most one active link per identity.
//
// Schema changes bump schemaVersion in schema.go; an existing database with a
// different version is rejected with ErrSchemaMismatch.
package store
