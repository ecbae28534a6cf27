package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// pgSchemaLockKey serializes schema creation across PostgreSQL clients.
const pgSchemaLockKey = 7_302_118_001

// Statements are portable between SQLite and PostgreSQL. Timestamps are text
// in timeLayout; booleans are 0/1 integers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS people (
		id            TEXT PRIMARY KEY,
		org_id        TEXT NOT NULL,
		display_name  TEXT NOT NULL,
		primary_email TEXT,
		team          TEXT,
		role          TEXT,
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_people_org_status ON people (org_id, status)`,
	`CREATE TABLE IF NOT EXISTS identities (
		id                 TEXT PRIMARY KEY,
		org_id             TEXT NOT NULL,
		source             TEXT NOT NULL,
		external_id        TEXT NOT NULL,
		username           TEXT,
		email              TEXT,
		display_name       TEXT,
		is_service_account INTEGER NOT NULL DEFAULT 0,
		first_seen_at      TEXT NOT NULL,
		last_seen_at       TEXT NOT NULL,
		raw_payload        TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_identities_source_external
		ON identities (org_id, source, external_id)`,
	`CREATE TABLE IF NOT EXISTS person_identity_links (
		id          TEXT PRIMARY KEY,
		org_id      TEXT NOT NULL,
		person_id   TEXT NOT NULL REFERENCES people (id),
		identity_id TEXT NOT NULL REFERENCES identities (id),
		status      TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		valid_from  TEXT NOT NULL,
		valid_to    TEXT,
		verified_by TEXT,
		verified_at TEXT,
		rule_trace  TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_links_active_identity
		ON person_identity_links (identity_id) WHERE valid_to IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_links_org_status
		ON person_identity_links (org_id, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_links_person ON person_identity_links (person_id)`,
	`CREATE TABLE IF NOT EXISTS identity_events (
		id         TEXT PRIMARY KEY,
		org_id     TEXT NOT NULL,
		link_id    TEXT NOT NULL REFERENCES person_identity_links (id),
		action     TEXT NOT NULL,
		actor      TEXT NOT NULL,
		payload    TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_link ON identity_events (link_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sync_watermarks (
		id             TEXT PRIMARY KEY,
		org_id         TEXT NOT NULL,
		source         TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'idle',
		last_synced_at TEXT,
		cursor_value   TEXT,
		error_message  TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_watermarks_org_source ON sync_watermarks (org_id, source)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.path != "" {
		lock := flock.New(s.path + ".lock")
		lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
		if err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		if !locked {
			return errors.New("acquire schema lock: timed out")
		}
		defer func() { _ = lock.Unlock() }()
	}

	exists, err := s.schemaVersionTableExists(ctx)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if !exists {
		return s.createSchema(ctx)
	}
	return s.verifySchemaVersion(ctx)
}

func (s *Store) schemaVersionTableExists(ctx context.Context) (bool, error) {
	var query string
	switch s.dialect {
	case postgresDialect:
		query = `SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_version'`
	default:
		query = `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) verifySchemaVersion(ctx context.Context) error {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Another client created the table but has not recorded the version yet.
		return s.createSchema(ctx)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (migrate or point store.path at a new database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if s.dialect == postgresDialect {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", int64(pgSchemaLockKey)); err != nil {
				return fmt.Errorf("acquire schema lock: %w", err)
			}
		}
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&count); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if count == 0 {
			if _, err := s.exec(ctx, tx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
		}
		return nil
	})
}
