package tenant_test

import (
	"context"
	"path/filepath"
	"testing"

	"docex/internal/infra/persistence/sqlite"
	"docex/internal/tenant"
)

// stack bundles a fully wired subsystem over a throwaway sqlite root.
type stack struct {
	backend     tenant.Backend
	registry    *tenant.Registry
	bootstrap   *tenant.BootstrapManager
	provisioner *tenant.Provisioner
	naming      tenant.Naming
	root        string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	root := t.TempDir()
	naming := tenant.Naming{DatabaseRoot: root}
	backend, err := sqlite.New(tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DisplayName:  "System",
		DatabasePath: filepath.Join(root, "system", "docex.db"),
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	registry := tenant.NewRegistry(backend)
	bootstrap := tenant.NewBootstrapManager(backend, tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DatabasePath: filepath.Join(root, "system", "docex.db"),
	})
	provisioner := tenant.NewProvisioner(backend, registry, naming, nil)
	return &stack{
		backend:     backend,
		registry:    registry,
		bootstrap:   bootstrap,
		provisioner: provisioner,
		naming:      naming,
		root:        root,
	}
}

// reopenBackend opens a second sqlite backend over the same root, as a fresh
// process would.
func reopenBackend(base *stack) (tenant.Backend, error) {
	return sqlite.New(tenant.Record{
		TenantID:     tenant.SystemTenantID,
		DisplayName:  "System",
		DatabasePath: filepath.Join(base.root, "system", "docex.db"),
	})
}

func (s *stack) mustInit(t *testing.T) {
	t.Helper()
	if err := s.bootstrap.Initialize(context.Background(), "test"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}

func (s *stack) mustCreate(t *testing.T, id string) tenant.Record {
	t.Helper()
	rec, err := s.provisioner.Create(context.Background(), id, "", "test", "")
	if err != nil {
		t.Fatalf("provision %s: %v", id, err)
	}
	return rec
}

func (s *stack) newRouter(t *testing.T, opts tenant.RouterOptions) *tenant.Router {
	t.Helper()
	provision := func(ctx context.Context, tenantID string) (tenant.Record, error) {
		return s.provisioner.Create(ctx, tenantID, "", "router", "")
	}
	r, err := tenant.NewRouter(s.backend, s.registry, provision, opts, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = r.CloseAll() })
	return r
}
