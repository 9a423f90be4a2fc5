// Package sqlite implements the database-file-per-tenant backend: one
// directory and one SQLite database per tenant, with the registry living in
// the bootstrap tenant's database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"docex/internal/tenant"
)

// Compile-time contract assertion ensuring the store satisfies the backend interface.
var _ tenant.Backend = (*Backend)(nil)

const registryDDL = `CREATE TABLE IF NOT EXISTS tenants (
	tenant_id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	isolation_strategy TEXT NOT NULL,
	schema_name TEXT,
	database_path TEXT,
	is_system INTEGER NOT NULL DEFAULT 0,
	created_by TEXT,
	created_at TIMESTAMP NOT NULL
)`

// tenantDDL seeds the business tables every tenant database carries. The
// registry table is deliberately absent: it exists only in the bootstrap
// database.
var tenantDDL = []string{
	`CREATE TABLE IF NOT EXISTS baskets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		storage_prefix TEXT NOT NULL,
		created_by TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		basket_id TEXT NOT NULL REFERENCES baskets(id),
		name TEXT NOT NULL,
		ext TEXT,
		content_type TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL,
		created_by TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_basket ON documents(basket_id)`,
}

// Backend stores each tenant in its own database file. The bootstrap record
// pins where the registry database lives.
type Backend struct {
	bootstrap tenant.Record

	mu       sync.Mutex
	registry *sql.DB
}

// New constructs the backend for a bootstrap record whose DatabasePath names
// the registry database file. Nothing is created until InitializeRegistry.
func New(bootstrap tenant.Record) (*Backend, error) {
	if bootstrap.DatabasePath == "" {
		return nil, fmt.Errorf("bootstrap record requires a database path")
	}
	bootstrap.Strategy = tenant.StrategyDatabase
	bootstrap.IsSystem = true
	return &Backend{bootstrap: bootstrap}, nil
}

func (b *Backend) Strategy() tenant.IsolationStrategy { return tenant.StrategyDatabase }

func (b *Backend) Dialect() tenant.Dialect { return tenant.DialectSQLite }

// EnsureBoundary creates the tenant's directory and database file if absent.
func (b *Backend) EnsureBoundary(_ context.Context, rec tenant.Record) error {
	if rec.DatabasePath == "" {
		return fmt.Errorf("record %s has no database path", rec.TenantID)
	}
	if err := os.MkdirAll(filepath.Dir(rec.DatabasePath), 0o750); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}
	db, err := sql.Open("sqlite", rec.DatabasePath)
	if err != nil {
		return fmt.Errorf("open tenant db: %w", err)
	}
	defer func() { _ = db.Close() }()
	// Ping forces file creation so a later BoundaryExists sees it.
	if err := db.Ping(); err != nil {
		return fmt.Errorf("create tenant db: %w", err)
	}
	return nil
}

// BoundaryExists checks for the tenant's database file without creating it.
func (b *Backend) BoundaryExists(_ context.Context, rec tenant.Record) (bool, error) {
	if rec.DatabasePath == "" {
		return false, fmt.Errorf("record %s has no database path", rec.TenantID)
	}
	_, err := os.Stat(rec.DatabasePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// EnsureTenantTables seeds the business tables in the tenant's database.
func (b *Backend) EnsureTenantTables(ctx context.Context, rec tenant.Record) error {
	db, err := sql.Open("sqlite", rec.DatabasePath)
	if err != nil {
		return fmt.Errorf("open tenant db: %w", err)
	}
	defer func() { _ = db.Close() }()
	for _, stmt := range tenantDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed tables for %s: %w", rec.TenantID, err)
		}
	}
	return nil
}

// InitializeRegistry creates the bootstrap directory, database, registry
// table and system record. Safe to re-run.
func (b *Backend) InitializeRegistry(ctx context.Context, system tenant.Record) error {
	if system.TenantID != b.bootstrap.TenantID {
		return fmt.Errorf("system record id %q does not match bootstrap id %q", system.TenantID, b.bootstrap.TenantID)
	}
	if err := b.EnsureBoundary(ctx, b.bootstrap); err != nil {
		return err
	}
	db, err := b.registryDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, registryDDL); err != nil {
		return fmt.Errorf("create registry table: %w", err)
	}
	system.DatabasePath = b.bootstrap.DatabasePath
	_, err = db.ExecContext(ctx, `INSERT INTO tenants
		(tenant_id, display_name, isolation_strategy, schema_name, database_path, is_system, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id) DO NOTHING`,
		system.TenantID, system.DisplayName, string(system.Strategy), system.SchemaName,
		system.DatabasePath, system.CreatedBy, system.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert system record: %w", err)
	}
	return nil
}

// RegistryInitialized stats the registry file and, when present, checks for
// the tenants table via sqlite_master. Opening a missing SQLite database
// would create it, so the stat has to come first.
func (b *Backend) RegistryInitialized(ctx context.Context) (bool, error) {
	if _, err := os.Stat(b.bootstrap.DatabasePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	db, err := b.registryDB()
	if err != nil {
		return false, err
	}
	var name string
	err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'tenants'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect registry db: %w", err)
	}
	return true, nil
}

func (b *Backend) InsertRecord(ctx context.Context, rec tenant.Record) error {
	db, err := b.registryDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO tenants
		(tenant_id, display_name, isolation_strategy, schema_name, database_path, is_system, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.DisplayName, string(rec.Strategy), rec.SchemaName,
		rec.DatabasePath, boolToInt(rec.IsSystem), rec.CreatedBy, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return tenant.TenantExistsError{TenantID: rec.TenantID}
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (b *Backend) LookupRecord(ctx context.Context, tenantID string) (tenant.Record, bool, error) {
	db, err := b.registryDB()
	if err != nil {
		return tenant.Record{}, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT tenant_id, display_name, isolation_strategy, schema_name,
		database_path, is_system, created_by, created_at FROM tenants WHERE tenant_id = ?`, tenantID)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Record{}, false, nil
	}
	if err != nil {
		return tenant.Record{}, false, fmt.Errorf("lookup record: %w", err)
	}
	return rec, true, nil
}

func (b *Backend) ListRecords(ctx context.Context) ([]tenant.Record, error) {
	db, err := b.registryDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT tenant_id, display_name, isolation_strategy, schema_name,
		database_path, is_system, created_by, created_at FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []tenant.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Open returns a pool on the tenant's own database file.
func (b *Backend) Open(_ context.Context, rec tenant.Record) (*sql.DB, error) {
	if rec.DatabasePath == "" {
		return nil, fmt.Errorf("record %s has no database path", rec.TenantID)
	}
	db, err := sql.Open("sqlite", rec.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open tenant db: %w", err)
	}
	return db, nil
}

// Close releases the registry pool.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registry == nil {
		return nil
	}
	err := b.registry.Close()
	b.registry = nil
	return err
}

// registryDB lazily opens the bootstrap database. Callers on the read-only
// paths must have established that the file exists first.
func (b *Backend) registryDB() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registry != nil {
		return b.registry, nil
	}
	db, err := sql.Open("sqlite", b.bootstrap.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	b.registry = db
	return db, nil
}

func scanRecord(scan func(dest ...any) error) (tenant.Record, error) {
	var rec tenant.Record
	var strategy string
	var schemaName, databasePath, createdBy sql.NullString
	var isSystem int
	var createdAt string
	if err := scan(&rec.TenantID, &rec.DisplayName, &strategy, &schemaName,
		&databasePath, &isSystem, &createdBy, &createdAt); err != nil {
		return tenant.Record{}, err
	}
	rec.Strategy = tenant.IsolationStrategy(strategy)
	rec.SchemaName = schemaName.String
	rec.DatabasePath = databasePath.String
	rec.CreatedBy = createdBy.String
	rec.IsSystem = isSystem != 0
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
