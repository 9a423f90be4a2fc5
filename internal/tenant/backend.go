package tenant

import (
	"context"
	"database/sql"
)

// Dialect identifies the SQL flavor of a backend so shared query text can be
// rebound to the right placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Backend abstracts the isolation-boundary store behind one strategy: a
// multi-schema database (schema-per-tenant) or a filesystem of database files
// (database-per-tenant). Boundary mutation methods use create-if-not-exists
// semantics so a provisioning step interrupted between sub-steps can always
// be retried verbatim.
//
// Registry methods operate on the registry table inside the bootstrap
// boundary; the registry exists nowhere else.
type Backend interface {
	// Strategy returns the isolation strategy this backend implements.
	Strategy() IsolationStrategy
	// Dialect returns the SQL placeholder dialect of tenant connections.
	Dialect() Dialect

	// EnsureBoundary creates the record's schema or database directory if
	// absent. Idempotent.
	EnsureBoundary(ctx context.Context, rec Record) error
	// BoundaryExists reports whether the record's boundary already exists.
	// Read-only.
	BoundaryExists(ctx context.Context, rec Record) (bool, error)
	// EnsureTenantTables creates the business tables inside the record's
	// boundary if absent. Idempotent. The registry table is never part of
	// this set.
	EnsureTenantTables(ctx context.Context, rec Record) error

	// InitializeRegistry creates the bootstrap boundary, the registry table
	// and the system record. Idempotent.
	InitializeRegistry(ctx context.Context, system Record) error
	// RegistryInitialized reports whether the bootstrap boundary and the
	// registry table exist. Strictly read-only: it must never create
	// anything, including an empty database file.
	RegistryInitialized(ctx context.Context) (bool, error)

	// InsertRecord appends a registry row. A duplicate tenant id fails with
	// TenantExistsError, which is what serializes two provisioners racing
	// on the same id.
	InsertRecord(ctx context.Context, rec Record) error
	// LookupRecord reads one registry row. The ok result is false when no
	// row exists; err is reserved for store failures.
	LookupRecord(ctx context.Context, tenantID string) (Record, bool, error)
	// ListRecords returns all registry rows ordered by tenant id.
	ListRecords(ctx context.Context) ([]Record, error)

	// Open returns a pooled connection scoped to the record's boundary.
	// The pool is owned by the caller (the ConnectionRouter).
	Open(ctx context.Context, rec Record) (*sql.DB, error)
	// Close releases backend-held resources such as the registry pool.
	Close() error
}
