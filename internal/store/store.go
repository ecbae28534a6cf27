package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"roster/internal/config"
	"roster/internal/logging"
)

// Store manages persistence for the identity graph.
type Store struct {
	db      *sql.DB
	dialect dialect
	path    string
	logger  *slog.Logger
	clock   func() time.Time
}

// Option customizes a Store at open time.
type Option func(*Store)

// WithLogger routes store logs through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for every persisted timestamp.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open connects to the configured backend and initializes the schema.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("store: nil config")
	}
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Store.DSN, opts...)
	case config.DriverSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.Store.Path, cfg.Store.BusyTimeoutMS, opts...)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Store.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string, busyTimeoutMS int, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return newStore(ctx, db, sqliteDialect, path, opts)
}

// OpenPostgres connects to PostgreSQL using a pgx connection string.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return newStore(ctx, db, postgresDialect, "", opts)
}

func newStore(ctx context.Context, db *sql.DB, d dialect, path string, opts []Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: d,
		path:    path,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "store")

	ctx = ensureContext(ctx)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.name, err)
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("store opened", logging.String("driver", d.name), logging.String("path", path))
	return s, nil
}

// orgLogger tags store logs with orgID and the caller's run id, if any.
func (s *Store) orgLogger(ctx context.Context, orgID string) *slog.Logger {
	return logging.WithContext(logging.WithOrgID(ensureContext(ctx), orgID), s.logger)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the backend name ("sqlite" or "postgres").
func (s *Store) Driver() string {
	return s.dialect.name
}

// Path returns the SQLite file path, or "" for PostgreSQL.
func (s *Store) Path() string {
	return s.path
}

// Health describes the store for diagnostics.
type Health struct {
	Driver        string `json:"driver"`
	Path          string `json:"path,omitempty"`
	SchemaVersion int    `json:"schema_version"`
	People        int    `json:"people"`
	Identities    int    `json:"identities"`
	ActiveLinks   int    `json:"active_links"`
	OpenConflicts int    `json:"open_conflicts"`
}

// CheckHealth pings the database and returns row counts.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{Driver: s.dialect.name, Path: s.path}
	if s.path != "" {
		info, err := os.Stat(s.path)
		if err != nil {
			return health, fmt.Errorf("stat database: %w", err)
		}
		if info.IsDir() {
			return health, fmt.Errorf("database path %q is a directory", s.path)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return health, identityDBError("ping database", err)
	}

	row := s.queryRow(ctx, s.db, `SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&health.SchemaVersion); err != nil {
		return health, identityDBError("read schema version", err)
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&health.People, `SELECT COUNT(1) FROM people`},
		{&health.Identities, `SELECT COUNT(1) FROM identities`},
		{&health.ActiveLinks, `SELECT COUNT(1) FROM person_identity_links WHERE valid_to IS NULL`},
		{&health.OpenConflicts, `SELECT COUNT(1) FROM person_identity_links WHERE valid_to IS NULL AND status = 'conflict'`},
	}
	for _, c := range counts {
		if err := s.queryRow(ctx, s.db, c.query).Scan(c.dst); err != nil {
			return health, identityDBError("count rows", err)
		}
	}
	return health, nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
