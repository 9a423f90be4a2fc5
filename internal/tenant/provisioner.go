package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docex/internal/metrics"
)

// Provisioner creates tenants: it validates the requested id, creates the
// isolation boundary, seeds the business tables and writes the registry
// record. The boundary steps are individually idempotent because a schema
// create and a registry insert cannot share one transaction across
// heterogeneous stores; a Create interrupted anywhere is safe to retry
// verbatim.
type Provisioner struct {
	backend  Backend
	registry *Registry
	naming   Naming
	metrics  metrics.Collector
	now      func() time.Time
}

// NewProvisioner constructs a provisioner. A nil collector disables metrics.
func NewProvisioner(backend Backend, registry *Registry, naming Naming, collector metrics.Collector) *Provisioner {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Provisioner{
		backend:  backend,
		registry: registry,
		naming:   naming,
		metrics:  collector,
		now:      time.Now,
	}
}

// Create provisions tenantID and returns its registry record. strategy may be
// empty, in which case the backend's native strategy is used; a non-empty
// strategy must match what the backend can provide.
//
// Failure modes: InvalidTenantIDError for a malformed or reserved id,
// TenantExistsError when the tenant is already registered (including losing a
// provisioning race), and wrapped store errors otherwise.
func (p *Provisioner) Create(ctx context.Context, tenantID, displayName, createdBy string, strategy IsolationStrategy) (Record, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return Record{}, err
	}

	// Fresh existence check; the registry is the single source of truth.
	exists, err := p.registry.Exists(ctx, tenantID)
	if err != nil {
		return Record{}, err
	}
	if exists {
		return Record{}, TenantExistsError{TenantID: tenantID}
	}

	strategy, err = p.resolveStrategy(strategy)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		TenantID:    tenantID,
		DisplayName: displayName,
		Strategy:    strategy,
		CreatedBy:   createdBy,
		CreatedAt:   p.now().UTC(),
	}
	if rec.DisplayName == "" {
		rec.DisplayName = tenantID
	}
	switch strategy {
	case StrategySchema:
		name, err := p.naming.ResolveSchemaName(tenantID)
		if err != nil {
			return Record{}, err
		}
		rec.SchemaName = name
	case StrategyDatabase:
		rec.DatabasePath = p.naming.ResolveDatabasePath(tenantID)
	}

	// Create-if-not-exists boundary plus table seeding: both re-runnable,
	// so a crash before the registry insert leaves nothing that a retry of
	// Create cannot converge on.
	if err := p.backend.EnsureBoundary(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("create boundary for %s: %w", tenantID, err)
	}
	if err := p.backend.EnsureTenantTables(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("seed tables for %s: %w", tenantID, err)
	}

	if err := p.registry.Insert(ctx, rec); err != nil {
		var dup TenantExistsError
		if errors.As(err, &dup) {
			// Lost a race; the winner's record is authoritative.
			return Record{}, dup
		}
		return Record{}, fmt.Errorf("register tenant %s: %w", tenantID, err)
	}
	p.metrics.TenantProvisioned(string(strategy))
	return rec, nil
}

// TenantExists reports whether tenantID is registered. Always a live read.
func (p *Provisioner) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	return p.registry.Exists(ctx, tenantID)
}

func (p *Provisioner) resolveStrategy(requested IsolationStrategy) (IsolationStrategy, error) {
	native := p.backend.Strategy()
	if requested == "" {
		return native, nil
	}
	if !requested.Valid() {
		return "", fmt.Errorf("unknown isolation strategy %q", requested)
	}
	if requested == StrategyRow {
		return "", fmt.Errorf("isolation strategy %q is not supported by any configured backend", requested)
	}
	if requested != native {
		return "", fmt.Errorf("isolation strategy %q requires a different backend (configured backend provides %q)", requested, native)
	}
	return requested, nil
}
