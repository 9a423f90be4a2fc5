package tenant

import (
	"context"
	"fmt"
)

// Registry reads and writes the persisted tenant table inside the bootstrap
// boundary. Every read goes to the live store: a cached "does not exist"
// immediately after a concurrent provisioning success would be a false
// negative, so no in-process cache is kept anywhere in this type.
type Registry struct {
	backend Backend
}

// NewRegistry wraps backend's registry table access.
func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend}
}

// Exists reports whether a registry record exists for tenantID. Always a
// fresh read.
func (r *Registry) Exists(ctx context.Context, tenantID string) (bool, error) {
	_, ok, err := r.backend.LookupRecord(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("registry lookup %s: %w", tenantID, err)
	}
	return ok, nil
}

// Get returns the record for tenantID or TenantNotFoundError.
func (r *Registry) Get(ctx context.Context, tenantID string) (Record, error) {
	rec, ok, err := r.backend.LookupRecord(ctx, tenantID)
	if err != nil {
		return Record{}, fmt.Errorf("registry lookup %s: %w", tenantID, err)
	}
	if !ok {
		return Record{}, TenantNotFoundError{TenantID: tenantID}
	}
	return rec, nil
}

// List returns every registry record, system record included.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.backend.ListRecords(ctx)
}

// Insert writes a new record. Duplicates surface as TenantExistsError from
// the backend's unique constraint.
func (r *Registry) Insert(ctx context.Context, rec Record) error {
	return r.backend.InsertRecord(ctx, rec)
}
