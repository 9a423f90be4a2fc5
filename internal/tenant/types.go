// Package tenant implements the tenant isolation and resolution subsystem:
// deterministic naming, one-time bootstrap, idempotent provisioning, a
// per-tenant connection router and the bound entry point applications use.
package tenant

import (
	"time"
)

// IsolationStrategy selects how a tenant's data is physically partitioned.
// It is chosen once at provisioning time, stored on the Record, and never
// re-derived afterwards.
type IsolationStrategy string

const (
	// StrategySchema isolates each tenant in its own schema of a shared
	// multi-schema database (Postgres).
	StrategySchema IsolationStrategy = "schema"
	// StrategyDatabase isolates each tenant in its own database file
	// (SQLite) under a dedicated directory.
	StrategyDatabase IsolationStrategy = "database"
	// StrategyRow is accepted and stored for forward compatibility but no
	// row-level backend ships; provisioning with it fails.
	StrategyRow IsolationStrategy = "row"
)

// Valid reports whether s names a known strategy.
func (s IsolationStrategy) Valid() bool {
	switch s {
	case StrategySchema, StrategyDatabase, StrategyRow:
		return true
	}
	return false
}

// Record is a row of the tenant registry. TenantID is immutable and unique;
// SchemaName/DatabasePath are resolved at provisioning time and stored
// verbatim so later template changes cannot move existing tenants.
type Record struct {
	TenantID     string            `json:"tenant_id"`
	DisplayName  string            `json:"display_name"`
	Strategy     IsolationStrategy `json:"isolation_strategy"`
	SchemaName   string            `json:"schema_name,omitempty"`
	DatabasePath string            `json:"database_path,omitempty"`
	IsSystem     bool              `json:"is_system"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Boundary returns the stored physical location for the record's strategy.
func (r Record) Boundary() string {
	if r.Strategy == StrategyDatabase {
		return r.DatabasePath
	}
	return r.SchemaName
}

// UserContext carries the validated identity a caller binds an EntryPoint
// with. It is immutable and scoped to one logical session; the subsystem
// performs no authentication or authorization on it.
type UserContext struct {
	UserID     string
	TenantID   string
	Roles      []string
	Attributes map[string]string
}

// StorageLocator is the resolved object-storage location triple for a basket
// or document. The concatenated Path is computed once at creation and stored
// on the owning record, never recomputed at read time.
type StorageLocator struct {
	Prefix string `json:"prefix"`           // namespace/environment/tenant prefix
	Basket string `json:"basket,omitempty"` // basket-level segment
	Leaf   string `json:"leaf,omitempty"`   // document segment
	Path   string `json:"path"`             // full concatenated key
}
