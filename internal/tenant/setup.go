package tenant

import (
	"context"
	"fmt"
)

// SetupChecker verifies that a deployment is ready to serve tenant-scoped
// operations. All checks are read-only and re-runnable; calling them in a
// loop performs no side effects.
type SetupChecker struct {
	bootstrap    *BootstrapManager
	registry     *Registry
	multiTenancy bool
}

// NewSetupChecker wires the read-only health checks.
func NewSetupChecker(bootstrap *BootstrapManager, registry *Registry, multiTenancy bool) *SetupChecker {
	return &SetupChecker{bootstrap: bootstrap, registry: registry, multiTenancy: multiTenancy}
}

// SetupErrors returns everything that prevents tenant-scoped operations:
// missing bootstrap state, a missing system record, or (with multi-tenancy
// enabled) the absence of any business tenant to bind to.
func (c *SetupChecker) SetupErrors(ctx context.Context) []error {
	var errs []error
	ok, err := c.bootstrap.IsInitialized(ctx)
	if err != nil {
		return append(errs, fmt.Errorf("check bootstrap state: %w", err))
	}
	if !ok {
		return append(errs, fmt.Errorf("bootstrap has not run: registry boundary or table missing"))
	}

	records, err := c.registry.List(ctx)
	if err != nil {
		return append(errs, fmt.Errorf("list registry: %w", err))
	}
	systems, business := 0, 0
	for _, rec := range records {
		if rec.IsSystem {
			systems++
		} else {
			business++
		}
	}
	if systems != 1 {
		errs = append(errs, fmt.Errorf("registry must hold exactly one system record, found %d", systems))
	}
	if c.multiTenancy && business == 0 {
		errs = append(errs, fmt.Errorf("multi-tenancy is enabled but no business tenant is provisioned"))
	}
	return errs
}

// IsProperlySetup reports whether SetupErrors is empty.
func (c *SetupChecker) IsProperlySetup(ctx context.Context) bool {
	return len(c.SetupErrors(ctx)) == 0
}
