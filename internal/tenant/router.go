package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"docex/internal/metrics"
)

// RouterMode selects how the router treats an unprovisioned tenant id.
type RouterMode string

const (
	// ModeExplicit fails closed: unknown tenants get TenantNotFoundError.
	ModeExplicit RouterMode = "explicit"
	// ModeLazy provisions the tenant on first access before handing out a
	// connection. Kept for installations migrating from implicit setups.
	ModeLazy RouterMode = "lazy"
)

// Handle is one tenant's pooled connection. It is owned exclusively by the
// Router; entry points only borrow it while bound.
type Handle struct {
	TenantID  string
	Dialect   Dialect
	CreatedAt time.Time

	db             *sql.DB
	acquireTimeout time.Duration
	metrics        metrics.Collector

	mu       sync.Mutex
	lastUsed time.Time
}

// DB exposes the underlying pool for query execution.
func (h *Handle) DB() *sql.DB { return h.db }

// LastUsed returns when the handle was last fetched from the router.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

func (h *Handle) touch(t time.Time) {
	h.mu.Lock()
	h.lastUsed = t
	h.mu.Unlock()
}

// Acquire checks a single connection out of the pool, waiting at most the
// configured acquire timeout. An exhausted pool surfaces as
// ResourceExhaustedError; retry policy belongs to the caller.
func (h *Handle) Acquire(ctx context.Context) (*sql.Conn, error) {
	timeout := h.acquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := h.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			h.metrics.AcquireTimeout(h.TenantID)
			return nil, ResourceExhaustedError{TenantID: h.TenantID, Timeout: timeout}
		}
		return nil, fmt.Errorf("acquire connection for %s: %w", h.TenantID, err)
	}
	return conn, nil
}

// RouterOptions tunes pool behavior per tenant handle.
type RouterOptions struct {
	Mode           RouterMode
	MaxOpenConns   int
	MaxIdleConns   int
	ConnIdleTime   time.Duration
	AcquireTimeout time.Duration
}

// Router maintains the tenant id to connection handle map shared by every
// entry point in the process. The mutex guards only the check-create-insert
// window; it is never held while a caller uses a connection, so steady-state
// traffic for provisioned tenants does not serialize.
type Router struct {
	backend   Backend
	registry  *Registry
	provision func(ctx context.Context, tenantID string) (Record, error)
	opts      RouterOptions
	metrics   metrics.Collector
	now       func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewRouter constructs a router. provision is required in ModeLazy and is
// typically Provisioner.Create with defaults applied; it is unused in
// ModeExplicit. A nil collector disables metrics.
func NewRouter(backend Backend, registry *Registry, provision func(ctx context.Context, tenantID string) (Record, error), opts RouterOptions, collector metrics.Collector) (*Router, error) {
	if opts.Mode == "" {
		opts.Mode = ModeExplicit
	}
	if opts.Mode != ModeExplicit && opts.Mode != ModeLazy {
		return nil, fmt.Errorf("unknown router mode %q", opts.Mode)
	}
	if opts.Mode == ModeLazy && provision == nil {
		return nil, fmt.Errorf("lazy router mode requires a provision function")
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Router{
		backend:   backend,
		registry:  registry,
		provision: provision,
		opts:      opts,
		metrics:   collector,
		now:       time.Now,
		handles:   make(map[string]*Handle),
	}, nil
}

// Get returns the tenant's handle, creating it on first access. In explicit
// mode an unregistered tenant fails with TenantNotFoundError; in lazy mode it
// is provisioned first. The router lock covers only the map decision and
// handle construction, and is released before the handle is used.
func (r *Router) Get(ctx context.Context, tenantID string) (*Handle, error) {
	// The system tenant is routable (single-tenant deployments bind it) even
	// though provisioning rejects it as a business tenant id.
	if tenantID != SystemTenantID {
		if err := ValidateTenantID(tenantID); err != nil {
			return nil, err
		}
	}
	start := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router is closed")
	}
	if h, ok := r.handles[tenantID]; ok {
		h.touch(r.now())
		r.metrics.ConnectionReused(tenantID)
		return h, nil
	}

	rec, err := r.resolveRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	db, err := r.backend.Open(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("open connection for %s: %w", tenantID, err)
	}
	if r.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(r.opts.MaxOpenConns)
	}
	if r.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(r.opts.MaxIdleConns)
	}
	if r.opts.ConnIdleTime > 0 {
		db.SetConnMaxIdleTime(r.opts.ConnIdleTime)
	}
	h := &Handle{
		TenantID:       tenantID,
		Dialect:        r.backend.Dialect(),
		CreatedAt:      r.now(),
		db:             db,
		acquireTimeout: r.opts.AcquireTimeout,
		metrics:        r.metrics,
		lastUsed:       r.now(),
	}
	r.handles[tenantID] = h
	r.metrics.ConnectionOpened(tenantID)
	r.metrics.AcquireLatency(r.now().Sub(start))
	return h, nil
}

// resolveRecord fetches the tenant record, provisioning in lazy mode. Called
// with the router lock held so N concurrent first-accesses create exactly one
// boundary.
func (r *Router) resolveRecord(ctx context.Context, tenantID string) (Record, error) {
	rec, err := r.registry.Get(ctx, tenantID)
	var missing TenantNotFoundError
	if err == nil {
		return rec, nil
	}
	if !errors.As(err, &missing) {
		return Record{}, err
	}
	if r.opts.Mode == ModeExplicit {
		return Record{}, err
	}
	rec, err = r.provision(ctx, tenantID)
	if err != nil {
		var dup TenantExistsError
		if errors.As(err, &dup) {
			// Another process won the provisioning race after our read.
			return r.registry.Get(ctx, tenantID)
		}
		return Record{}, err
	}
	r.metrics.LazyProvision(tenantID)
	return rec, nil
}

// Close releases one tenant's pooled connection and removes its map entry.
// Closing an unknown tenant is a no-op.
func (r *Router) Close(tenantID string) error {
	r.mu.Lock()
	h, ok := r.handles[tenantID]
	delete(r.handles, tenantID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close pool for %s: %w", tenantID, err)
	}
	return nil
}

// CloseAll releases every pooled connection and marks the router closed.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.closed = true
	r.mu.Unlock()
	var firstErr error
	for id, h := range handles {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close pool for %s: %w", id, err)
		}
	}
	return firstErr
}

// Size reports how many tenant handles are currently pooled.
func (r *Router) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
