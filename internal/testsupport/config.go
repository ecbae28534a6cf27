package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"roster/internal/config"
)

// PostgresEnv names the DSN used to run store tests against PostgreSQL.
const PostgresEnv = "ROSTER_TEST_DATABASE_URL"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config backed by a fresh SQLite file in a per-test
// temp directory. It applies any provided options afterwards.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.Path = filepath.Join(base, "data", "roster.db")
	cfgVal.Store.DSN = ""
	cfgVal.Logging.Dir = ""
	cfgVal.Tenant.OrgID = "org-test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithOrg sets the default organization on the test config.
func WithOrg(orgID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tenant.OrgID = orgID
	}
}

// WithLogDir enables file logging under the test temp directory.
func WithLogDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Logging.Dir = filepath.Join(b.baseDir, "logs")
	}
}

// WithPostgres switches the config to PostgreSQL when PostgresEnv is set and
// skips the test otherwise.
func WithPostgres() ConfigOption {
	return func(b *configBuilder) {
		dsn := os.Getenv(PostgresEnv)
		if dsn == "" {
			b.t.Skipf("%s not set", PostgresEnv)
		}
		b.cfg.Store.Driver = config.DriverPostgres
		b.cfg.Store.DSN = dsn
		b.cfg.Store.Path = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.Store.Path))
}
