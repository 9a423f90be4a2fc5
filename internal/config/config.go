// Package config reads the subsystem configuration from the process
// environment. The subsystem only consumes these values; file parsing and
// flag handling belong to the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"docex/internal/tenant"
)

// BackendKind selects the isolation-boundary store.
type BackendKind string

const (
	BackendSQLite   BackendKind = "sqlite"
	BackendPostgres BackendKind = "postgres"
)

// MultiTenancy holds the tenancy switches and the bootstrap tenant location.
type MultiTenancy struct {
	Enabled           bool
	IsolationStrategy tenant.IsolationStrategy // empty: backend native
	BootstrapID       string
	BootstrapSchema   string
	BootstrapDBPath   string
}

// Router tunes the connection router and per-tenant pools.
type Router struct {
	Mode           tenant.RouterMode
	MaxOpenConns   int
	MaxIdleConns   int
	ConnIdleTime   time.Duration
	AcquireTimeout time.Duration
}

// Config is the complete subsystem configuration.
type Config struct {
	Backend     BackendKind
	PostgresDSN string
	SQLiteRoot  string

	MultiTenancy MultiTenancy
	Router       Router

	// Naming templates and optional storage key segments.
	SchemaTemplate     string
	StorageNamespace   string
	StorageEnvironment string
}

// Defaults returns the configuration used when no environment is set:
// sqlite backend under ./data, explicit router mode, multi-tenancy on.
func Defaults() Config {
	return Config{
		Backend:    BackendSQLite,
		SQLiteRoot: "./data",
		MultiTenancy: MultiTenancy{
			Enabled:     true,
			BootstrapID: tenant.SystemTenantID,
		},
		Router: Router{
			Mode:           tenant.ModeExplicit,
			MaxOpenConns:   8,
			MaxIdleConns:   2,
			ConnIdleTime:   5 * time.Minute,
			AcquireTimeout: 30 * time.Second,
		},
		SchemaTemplate: tenant.DefaultSchemaTemplate,
	}
}

// FromEnv builds a Config from DOCEX_* environment variables on top of
// Defaults.
func FromEnv() (Config, error) {
	cfg := Defaults()
	if v := os.Getenv("DOCEX_BACKEND"); v != "" {
		cfg.Backend = BackendKind(v)
	}
	cfg.PostgresDSN = getenvDefault("DOCEX_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.SQLiteRoot = getenvDefault("DOCEX_SQLITE_ROOT", cfg.SQLiteRoot)

	if v := os.Getenv("DOCEX_MULTI_TENANCY_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("DOCEX_MULTI_TENANCY_ENABLED: %w", err)
		}
		cfg.MultiTenancy.Enabled = b
	}
	if v := os.Getenv("DOCEX_ISOLATION_STRATEGY"); v != "" {
		cfg.MultiTenancy.IsolationStrategy = tenant.IsolationStrategy(v)
	}
	cfg.MultiTenancy.BootstrapID = getenvDefault("DOCEX_BOOTSTRAP_TENANT_ID", cfg.MultiTenancy.BootstrapID)
	cfg.MultiTenancy.BootstrapSchema = getenvDefault("DOCEX_BOOTSTRAP_SCHEMA", cfg.MultiTenancy.BootstrapSchema)
	cfg.MultiTenancy.BootstrapDBPath = getenvDefault("DOCEX_BOOTSTRAP_DATABASE_PATH", cfg.MultiTenancy.BootstrapDBPath)

	if v := os.Getenv("DOCEX_ROUTER_MODE"); v != "" {
		cfg.Router.Mode = tenant.RouterMode(v)
	}
	var err error
	if cfg.Router.MaxOpenConns, err = getenvInt("DOCEX_POOL_MAX_OPEN", cfg.Router.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if cfg.Router.MaxIdleConns, err = getenvInt("DOCEX_POOL_MAX_IDLE", cfg.Router.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if cfg.Router.AcquireTimeout, err = getenvDuration("DOCEX_POOL_ACQUIRE_TIMEOUT", cfg.Router.AcquireTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Router.ConnIdleTime, err = getenvDuration("DOCEX_POOL_CONN_IDLE_TIME", cfg.Router.ConnIdleTime); err != nil {
		return Config{}, err
	}

	cfg.SchemaTemplate = getenvDefault("DOCEX_SCHEMA_TEMPLATE", cfg.SchemaTemplate)
	cfg.StorageNamespace = getenvDefault("DOCEX_STORAGE_NAMESPACE", cfg.StorageNamespace)
	cfg.StorageEnvironment = getenvDefault("DOCEX_STORAGE_ENVIRONMENT", cfg.StorageEnvironment)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no backend can serve.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.SQLiteRoot == "" {
			return fmt.Errorf("sqlite backend requires a database root")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires DOCEX_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MultiTenancy.BootstrapID == "" {
		return fmt.Errorf("bootstrap tenant id required")
	}
	if s := c.MultiTenancy.IsolationStrategy; s != "" && !s.Valid() {
		return fmt.Errorf("unknown isolation strategy %q", s)
	}
	switch c.Router.Mode {
	case tenant.ModeExplicit, tenant.ModeLazy:
	default:
		return fmt.Errorf("unknown router mode %q", c.Router.Mode)
	}
	return nil
}

// Naming returns the tenant naming resolver this configuration implies.
func (c Config) Naming() tenant.Naming {
	return tenant.Naming{
		SchemaTemplate: c.SchemaTemplate,
		DatabaseRoot:   c.SQLiteRoot,
		Namespace:      c.StorageNamespace,
		Environment:    c.StorageEnvironment,
	}
}

// BootstrapRecord returns the system tenant prototype for the configured
// backend: schema name for postgres, database path for sqlite. Unset values
// fall back to locations derived from the bootstrap id.
func (c Config) BootstrapRecord() tenant.Record {
	rec := tenant.Record{
		TenantID:    c.MultiTenancy.BootstrapID,
		DisplayName: "System",
		IsSystem:    true,
	}
	switch c.Backend {
	case BackendPostgres:
		rec.Strategy = tenant.StrategySchema
		rec.SchemaName = c.MultiTenancy.BootstrapSchema
		if rec.SchemaName == "" {
			rec.SchemaName = c.MultiTenancy.BootstrapID
		}
	case BackendSQLite:
		rec.Strategy = tenant.StrategyDatabase
		rec.DatabasePath = c.MultiTenancy.BootstrapDBPath
		if rec.DatabasePath == "" {
			rec.DatabasePath = c.Naming().ResolveDatabasePath(c.MultiTenancy.BootstrapID)
		}
	}
	return rec
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
