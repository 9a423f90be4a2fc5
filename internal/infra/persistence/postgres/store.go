// Package postgres implements the schema-per-tenant backend: every tenant
// gets its own schema in one shared database, and per-tenant connections pin
// search_path to that schema so cross-tenant table access is structurally
// impossible through a handle.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"docex/internal/tenant"
)

// Compile-time contract assertion ensuring the store satisfies the backend interface.
var _ tenant.Backend = (*Backend)(nil)

const (
	defaultDriver = "pgx"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// tenantDDL renders the business tables seeded inside a tenant schema. The
// registry table is created only by InitializeRegistry, only in the
// bootstrap schema.
func tenantDDL(schema string) []string {
	q := quoteIdent(schema)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.baskets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			storage_prefix TEXT NOT NULL,
			created_by TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`, q),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.documents (
			id TEXT PRIMARY KEY,
			basket_id TEXT NOT NULL REFERENCES %s.baskets(id),
			name TEXT NOT NULL,
			ext TEXT,
			content_type TEXT,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			storage_path TEXT NOT NULL,
			created_by TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`, q, q),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_documents_basket ON %s.documents(basket_id)`, q),
	}
}

// Backend manages schemas and the registry table over one admin pool.
type Backend struct {
	dsn       string
	bootstrap tenant.Record

	mu    sync.Mutex
	admin *sql.DB
}

// New constructs the backend. dsn is the shared database; the bootstrap
// record's SchemaName locates the registry schema. The admin pool is opened
// lazily so construction itself performs no I/O.
func New(dsn string, bootstrap tenant.Record) (*Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	if bootstrap.SchemaName == "" {
		return nil, fmt.Errorf("bootstrap record requires a schema name")
	}
	bootstrap.Strategy = tenant.StrategySchema
	bootstrap.IsSystem = true
	return &Backend{dsn: dsn, bootstrap: bootstrap}, nil
}

func (b *Backend) Strategy() tenant.IsolationStrategy { return tenant.StrategySchema }

func (b *Backend) Dialect() tenant.Dialect { return tenant.DialectPostgres }

// EnsureBoundary creates the record's schema if absent.
func (b *Backend) EnsureBoundary(ctx context.Context, rec tenant.Record) error {
	if rec.SchemaName == "" {
		return fmt.Errorf("record %s has no schema name", rec.TenantID)
	}
	db, err := b.adminDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(rec.SchemaName)); err != nil {
		return fmt.Errorf("create schema %s: %w", rec.SchemaName, err)
	}
	return nil
}

// BoundaryExists checks information_schema for the record's schema.
func (b *Backend) BoundaryExists(ctx context.Context, rec tenant.Record) (bool, error) {
	db, err := b.adminDB()
	if err != nil {
		return false, err
	}
	return schemaExists(ctx, db, rec.SchemaName)
}

// EnsureTenantTables seeds the business tables inside the record's schema.
func (b *Backend) EnsureTenantTables(ctx context.Context, rec tenant.Record) error {
	db, err := b.adminDB()
	if err != nil {
		return err
	}
	if rec.SchemaName == "" {
		return fmt.Errorf("record %s has no schema name", rec.TenantID)
	}
	for _, stmt := range tenantDDL(rec.SchemaName) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed tables for %s: %w", rec.TenantID, err)
		}
	}
	return nil
}

// InitializeRegistry creates the bootstrap schema, the registry table and the
// system record. Safe to re-run.
func (b *Backend) InitializeRegistry(ctx context.Context, system tenant.Record) error {
	if system.TenantID != b.bootstrap.TenantID {
		return fmt.Errorf("system record id %q does not match bootstrap id %q", system.TenantID, b.bootstrap.TenantID)
	}
	db, err := b.adminDB()
	if err != nil {
		return err
	}
	if err := b.EnsureBoundary(ctx, b.bootstrap); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tenants (
		tenant_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		isolation_strategy TEXT NOT NULL,
		schema_name TEXT,
		database_path TEXT,
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`, quoteIdent(b.bootstrap.SchemaName))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create registry table: %w", err)
	}
	system.SchemaName = b.bootstrap.SchemaName
	_, err = db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s.tenants
		(tenant_id, display_name, isolation_strategy, schema_name, database_path, is_system, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
		ON CONFLICT (tenant_id) DO NOTHING`, quoteIdent(b.bootstrap.SchemaName)),
		system.TenantID, system.DisplayName, string(system.Strategy), system.SchemaName,
		system.DatabasePath, system.CreatedBy, system.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert system record: %w", err)
	}
	return nil
}

// RegistryInitialized reports whether the bootstrap schema and its tenants
// table exist. Read-only: nothing is created on this path.
func (b *Backend) RegistryInitialized(ctx context.Context) (bool, error) {
	db, err := b.adminDB()
	if err != nil {
		return false, err
	}
	ok, err := schemaExists(ctx, db, b.bootstrap.SchemaName)
	if err != nil || !ok {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = 'tenants'`, b.bootstrap.SchemaName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect registry table: %w", err)
	}
	return true, nil
}

func (b *Backend) InsertRecord(ctx context.Context, rec tenant.Record) error {
	db, err := b.adminDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s.tenants
		(tenant_id, display_name, isolation_strategy, schema_name, database_path, is_system, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, quoteIdent(b.bootstrap.SchemaName)),
		rec.TenantID, rec.DisplayName, string(rec.Strategy), rec.SchemaName,
		rec.DatabasePath, rec.IsSystem, rec.CreatedBy, rec.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return tenant.TenantExistsError{TenantID: rec.TenantID}
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (b *Backend) LookupRecord(ctx context.Context, tenantID string) (tenant.Record, bool, error) {
	db, err := b.adminDB()
	if err != nil {
		return tenant.Record{}, false, err
	}
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT tenant_id, display_name, isolation_strategy,
		schema_name, database_path, is_system, created_by, created_at
		FROM %s.tenants WHERE tenant_id = $1`, quoteIdent(b.bootstrap.SchemaName)), tenantID)
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
	db, err := b.adminDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT tenant_id, display_name, isolation_strategy,
		schema_name, database_path, is_system, created_by, created_at
		FROM %s.tenants ORDER BY tenant_id`, quoteIdent(b.bootstrap.SchemaName)))
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

// Open returns a pool whose every connection has search_path pinned to the
// record's schema via DSN options, so unqualified table names can only ever
// resolve inside the tenant's boundary.
func (b *Backend) Open(_ context.Context, rec tenant.Record) (*sql.DB, error) {
	if rec.SchemaName == "" {
		return nil, fmt.Errorf("record %s has no schema name", rec.TenantID)
	}
	dsn, err := TenantDSN(b.dsn, rec.SchemaName)
	if err != nil {
		return nil, err
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open tenant pool: %w", err)
	}
	return db, nil
}

// Close releases the admin pool.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.admin == nil {
		return nil
	}
	err := b.admin.Close()
	b.admin = nil
	return err
}

func (b *Backend) adminDB() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.admin != nil {
		return b.admin, nil
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, b.dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	b.admin = db
	return db, nil
}

// TenantDSN returns dsn with server-side search_path options pinning schema.
// URL-style DSNs get an options query parameter; keyword-value DSNs get an
// options keyword appended.
func TenantDSN(dsn, schema string) (string, error) {
	opt := "-csearch_path=" + schema
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		q := u.Query()
		q.Set("options", opt)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return dsn + " options='" + opt + "'", nil
}

// quoteIdent double-quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func schemaExists(ctx context.Context, db *sql.DB, schema string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.schemata WHERE schema_name = $1`, schema).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect schema %s: %w", schema, err)
	}
	return true, nil
}

func scanRecord(scan func(dest ...any) error) (tenant.Record, error) {
	var rec tenant.Record
	var strategy string
	var schemaName, databasePath, createdBy sql.NullString
	var createdAt time.Time
	if err := scan(&rec.TenantID, &rec.DisplayName, &strategy, &schemaName,
		&databasePath, &rec.IsSystem, &createdBy, &createdAt); err != nil {
		return tenant.Record{}, err
	}
	rec.Strategy = tenant.IsolationStrategy(strategy)
	rec.SchemaName = schemaName.String
	rec.DatabasePath = databasePath.String
	rec.CreatedBy = createdBy.String
	rec.CreatedAt = createdAt
	return rec, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
