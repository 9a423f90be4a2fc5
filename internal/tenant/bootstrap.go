package tenant

import (
	"context"
	"fmt"
	"time"
)

// BootstrapManager performs the one-time-per-deployment creation of the
// bootstrap boundary, the registry table inside it and the system tenant
// record. Initialize is idempotent; IsInitialized only observes.
type BootstrapManager struct {
	backend Backend
	system  Record
	now     func() time.Time
}

// NewBootstrapManager builds a manager for the given system record prototype.
// The prototype carries the reserved tenant id and the resolved bootstrap
// schema name or database path from configuration; CreatedBy/CreatedAt are
// filled at Initialize time.
func NewBootstrapManager(backend Backend, system Record) *BootstrapManager {
	system.IsSystem = true
	if system.Strategy == "" {
		system.Strategy = backend.Strategy()
	}
	return &BootstrapManager{backend: backend, system: system, now: time.Now}
}

// SystemRecord returns the system tenant prototype the manager installs.
func (m *BootstrapManager) SystemRecord() Record { return m.system }

// Initialize creates the bootstrap boundary, registry table and system record
// if any of them are missing. Running it against an initialized deployment is
// a no-op.
func (m *BootstrapManager) Initialize(ctx context.Context, createdBy string) error {
	rec := m.system
	rec.CreatedBy = createdBy
	rec.CreatedAt = m.now().UTC()
	if rec.DisplayName == "" {
		rec.DisplayName = "System"
	}
	if err := m.backend.InitializeRegistry(ctx, rec); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	// Single-tenant deployments serve data out of the system boundary, so it
	// carries the business tables like any other tenant.
	if err := m.backend.EnsureTenantTables(ctx, rec); err != nil {
		return fmt.Errorf("seed system tables: %w", err)
	}
	return nil
}

// IsInitialized reports whether the bootstrap boundary and registry table
// exist. It never creates anything.
func (m *BootstrapManager) IsInitialized(ctx context.Context) (bool, error) {
	return m.backend.RegistryInitialized(ctx)
}
