package tenant_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docex/internal/tenant"
)

func TestRouterExplicitModeFailsClosed(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.mustInit(t)
	r := s.newRouter(t, tenant.RouterOptions{Mode: tenant.ModeExplicit})

	_, err := r.Get(ctx, "ghost")
	var missing tenant.TenantNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("Get(ghost) = %v, want TenantNotFoundError", err)
	}

	s.mustCreate(t, "acme")
	h, err := r.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get(acme): %v", err)
	}
	if h.TenantID != "acme" {
		t.Fatalf("handle tenant = %q", h.TenantID)
	}
	// Second Get returns the pooled handle.
	again, err := r.Get(ctx, "acme")
	if err != nil || again != h {
		t.Fatalf("expected pooled handle, got %v (%v)", again, err)
	}
	if r.Size() != 1 {
		t.Fatalf("router size = %d, want 1", r.Size())
	}
}

func TestRouterLazyModeProvisionsOnce(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.mustInit(t)

	var provisions atomic.Int32
	provision := func(ctx context.Context, tenantID string) (tenant.Record, error) {
		provisions.Add(1)
		return s.provisioner.Create(ctx, tenantID, "", "router", "")
	}
	r, err := tenant.NewRouter(s.backend, s.registry, provision, tenant.RouterOptions{Mode: tenant.ModeLazy}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer func() { _ = r.CloseAll() }()

	const callers = 16
	var wg sync.WaitGroup
	handles := make([]*tenant.Handle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = r.Get(ctx, "lazy_t")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i] == nil || handles[i] != handles[0] {
			t.Fatalf("caller %d received a different handle", i)
		}
	}
	if got := provisions.Load(); got != 1 {
		t.Fatalf("provision ran %d times, want exactly 1", got)
	}
	if ok, _ := s.provisioner.TenantExists(ctx, "lazy_t"); !ok {
		t.Fatalf("lazy tenant not registered")
	}
}

func TestRouterLazyModeToleratesLostRace(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.mustInit(t)

	// Provision behaves as if another process won between the registry read
	// and our create.
	provision := func(ctx context.Context, tenantID string) (tenant.Record, error) {
		if _, err := s.provisioner.Create(ctx, tenantID, "", "other", ""); err != nil {
			return tenant.Record{}, err
		}
		return tenant.Record{}, tenant.TenantExistsError{TenantID: tenantID}
	}
	r, err := tenant.NewRouter(s.backend, s.registry, provision, tenant.RouterOptions{Mode: tenant.ModeLazy}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer func() { _ = r.CloseAll() }()

	h, err := r.Get(ctx, "raced")
	if err != nil {
		t.Fatalf("Get after lost race: %v", err)
	}
	if h.TenantID != "raced" {
		t.Fatalf("handle tenant = %q", h.TenantID)
	}
}

func TestRouterCloseRemovesEntry(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.mustInit(t)
	s.mustCreate(t, "acme")
	s.mustCreate(t, "beta")
	r := s.newRouter(t, tenant.RouterOptions{})

	if _, err := r.Get(ctx, "acme"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get(ctx, "beta"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Close("acme"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Size() != 1 {
		t.Fatalf("size after close = %d, want 1", r.Size())
	}
	// Closing one tenant leaves others untouched.
	if _, err := r.Get(ctx, "beta"); err != nil {
		t.Fatalf("Get(beta) after Close(acme): %v", err)
	}
	// Closing an unknown tenant is a no-op.
	if err := r.Close("ghost"); err != nil {
		t.Fatalf("Close(ghost): %v", err)
	}
}

func TestHandleAcquireTimeout(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	s.mustInit(t)
	s.mustCreate(t, "acme")
	r := s.newRouter(t, tenant.RouterOptions{
		MaxOpenConns:   1,
		AcquireTimeout: 50 * time.Millisecond,
	})

	h, err := r.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	conn, err := h.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = h.Acquire(ctx)
	var exhausted tenant.ResourceExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("second acquire = %v, want ResourceExhaustedError", err)
	}
	if exhausted.TenantID != "acme" {
		t.Fatalf("error names tenant %q", exhausted.TenantID)
	}
}
