package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docex/internal/tenant"
)

func newBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := t.TempDir()
	b, err := New(tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DisplayName:  "System",
		DatabasePath: filepath.Join(root, "system", "docex.db"),
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, root
}

func systemRecord(path string) tenant.Record {
	return tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DisplayName:  "System",
		Strategy:     tenant.StrategyDatabase,
		DatabasePath: path,
		IsSystem:     true,
		CreatedBy:    "test",
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInitializeRegistryIdempotent(t *testing.T) {
	ctx := context.Background()
	b, root := newBackend(t)
	sys := systemRecord(filepath.Join(root, "system", "docex.db"))

	for i := 0; i < 2; i++ {
		if err := b.InitializeRegistry(ctx, sys); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}
	ok, err := b.RegistryInitialized(ctx)
	if err != nil || !ok {
		t.Fatalf("RegistryInitialized = %v, %v", ok, err)
	}
	records, err := b.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || !records[0].IsSystem {
		t.Fatalf("records after double init = %+v", records)
	}
}

func TestInitializeRegistryRejectsForeignID(t *testing.T) {
	b, _ := newBackend(t)
	sys := systemRecord("unused")
	sys.TenantID = "impostor"
	if err := b.InitializeRegistry(context.Background(), sys); err == nil {
		t.Fatalf("mismatched system id must fail")
	}
}

func TestRegistryInitializedIsReadOnly(t *testing.T) {
	ctx := context.Background()
	b, root := newBackend(t)
	ok, err := b.RegistryInitialized(ctx)
	if err != nil || ok {
		t.Fatalf("RegistryInitialized on empty root = %v, %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(root, "system", "docex.db")); !os.IsNotExist(err) {
		t.Fatalf("read-only check created the registry file")
	}
}

func TestInsertRecordDuplicate(t *testing.T) {
	ctx := context.Background()
	b, root := newBackend(t)
	if err := b.InitializeRegistry(ctx, systemRecord(filepath.Join(root, "system", "docex.db"))); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	rec := tenant.Record{
		TenantID:     "acme",
		DisplayName:  "Acme",
		Strategy:     tenant.StrategyDatabase,
		DatabasePath: filepath.Join(root, "tenant_acme", "docex.db"),
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := b.InsertRecord(ctx, rec)
	var dup tenant.TenantExistsError
	if !errors.As(err, &dup) {
		t.Fatalf("duplicate insert = %v, want TenantExistsError", err)
	}

	got, ok, err := b.LookupRecord(ctx, "acme")
	if err != nil || !ok {
		t.Fatalf("lookup = %v, %v", ok, err)
	}
	if got.TenantID != "acme" || got.DisplayName != "Acme" || got.Strategy != tenant.StrategyDatabase || got.DatabasePath != rec.DatabasePath {
		t.Fatalf("roundtripped record = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at lost in roundtrip")
	}
}

func TestBoundaryLifecycle(t *testing.T) {
	ctx := context.Background()
	b, root := newBackend(t)
	rec := tenant.Record{
		TenantID:     "acme",
		Strategy:     tenant.StrategyDatabase,
		DatabasePath: filepath.Join(root, "tenant_acme", "docex.db"),
	}

	ok, err := b.BoundaryExists(ctx, rec)
	if err != nil || ok {
		t.Fatalf("BoundaryExists before create = %v, %v", ok, err)
	}
	if err := b.EnsureBoundary(ctx, rec); err != nil {
		t.Fatalf("ensure boundary: %v", err)
	}
	if err := b.EnsureBoundary(ctx, rec); err != nil {
		t.Fatalf("ensure boundary again: %v", err)
	}
	ok, err = b.BoundaryExists(ctx, rec)
	if err != nil || !ok {
		t.Fatalf("BoundaryExists after create = %v, %v", ok, err)
	}

	if err := b.EnsureTenantTables(ctx, rec); err != nil {
		t.Fatalf("seed tables: %v", err)
	}
	db, err := b.Open(ctx, rec)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	// Business tables exist; the registry table must not.
	if _, err := db.Exec(`INSERT INTO baskets (id, name, storage_prefix, created_at) VALUES ('b1', 'x', 'p/', '2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("baskets table missing: %v", err)
	}
	if _, err := db.Query(`SELECT tenant_id FROM tenants`); err == nil {
		t.Fatalf("registry table leaked into a tenant boundary")
	}
}
