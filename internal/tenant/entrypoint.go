package tenant

import (
	"context"
	"fmt"
	"sync"
)

type bindState int

const (
	stateUnbound bindState = iota
	stateBound
	stateClosed
)

// EntryPoint is the per-session handle applications use. It binds exactly one
// UserContext (and therefore one tenant) to one router entry. Re-binding with
// the same tenant is cheap; re-binding with a different tenant without an
// intervening Close or Reset fails with TenantSwitchError, so a forgotten
// context swap is a loud failure instead of silent cross-tenant access.
type EntryPoint struct {
	router       *Router
	multiTenancy bool

	mu     sync.Mutex
	state  bindState
	user   UserContext
	handle *Handle
}

// NewEntryPoint returns an unbound entry point. One instance serves one
// logical caller session; it is safe for that session's threads to share.
func NewEntryPoint(router *Router, multiTenancy bool) *EntryPoint {
	return &EntryPoint{router: router, multiTenancy: multiTenancy}
}

// Bind attaches user to this entry point and fetches the tenant's connection
// handle from the router. Binding an already-bound instance succeeds only for
// the same tenant id.
func (e *EntryPoint) Bind(ctx context.Context, user UserContext) error {
	if user.UserID == "" {
		return fmt.Errorf("user context requires a user id")
	}
	if user.TenantID == "" {
		if e.multiTenancy {
			return fmt.Errorf("user context requires a tenant id when multi-tenancy is enabled")
		}
		// Single-tenant deployments run everything in the system tenant.
		user.TenantID = SystemTenantID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateBound {
		if e.user.TenantID == user.TenantID {
			// Same tenant: reuse the pooled handle.
			return nil
		}
		return TenantSwitchError{Bound: e.user.TenantID, Requested: user.TenantID}
	}
	h, err := e.router.Get(ctx, user.TenantID)
	if err != nil {
		return err
	}
	e.state = stateBound
	e.user = user
	e.handle = h
	return nil
}

// Handle returns the bound tenant's connection handle. Every data operation
// goes through this accessor; there is no default or fallback tenant.
func (e *EntryPoint) Handle() (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateBound {
		return nil, fmt.Errorf("entry point is not bound to a tenant")
	}
	return e.handle, nil
}

// User returns the bound user context and whether the instance is bound.
func (e *EntryPoint) User() (UserContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user, e.state == stateBound
}

// TenantID returns the bound tenant id, empty when unbound.
func (e *EntryPoint) TenantID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateBound {
		return ""
	}
	return e.user.TenantID
}

// Close releases this instance's logical claim on the router entry and
// returns it to an unbound-equivalent state. The pooled connection itself
// stays in the router for other sessions of the same tenant.
func (e *EntryPoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = stateClosed
	e.user = UserContext{}
	e.handle = nil
	return nil
}

// Reset is Close under the name callers migrating between tenants reach for:
// after Reset the instance can be bound to a different tenant.
func (e *EntryPoint) Reset() error { return e.Close() }
