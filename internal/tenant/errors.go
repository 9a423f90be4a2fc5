package tenant

import (
	"fmt"
	"time"
)

// InvalidTenantIDError is returned when a tenant id violates the allowed
// pattern or names the reserved system tenant.
type InvalidTenantIDError struct {
	TenantID string
	Reason   string
}

func (e InvalidTenantIDError) Error() string {
	return fmt.Sprintf("invalid tenant id %q: %s", e.TenantID, e.Reason)
}

// TenantExistsError is returned when provisioning collides with an existing
// registry record.
type TenantExistsError struct {
	TenantID string
}

func (e TenantExistsError) Error() string {
	return fmt.Sprintf("tenant %q already exists", e.TenantID)
}

// TenantNotFoundError is returned when a registry lookup finds no record.
type TenantNotFoundError struct {
	TenantID string
}

func (e TenantNotFoundError) Error() string {
	return fmt.Sprintf("tenant %q not found", e.TenantID)
}

// TenantSwitchError is returned when a bound entry point is asked to operate
// under a different tenant without an intervening Close/Reset. Failing loud
// here is what keeps a forgotten context swap from becoming silent
// cross-tenant exposure.
type TenantSwitchError struct {
	Bound     string
	Requested string
}

func (e TenantSwitchError) Error() string {
	return fmt.Sprintf("entry point bound to tenant %q; close or reset before binding tenant %q", e.Bound, e.Requested)
}

// ResourceExhaustedError is returned when acquiring a connection from a
// tenant's pool does not complete within the configured timeout. Callers are
// expected to retry with backoff; the subsystem never retries on its own.
type ResourceExhaustedError struct {
	TenantID string
	Timeout  time.Duration
}

func (e ResourceExhaustedError) Error() string {
	return fmt.Sprintf("tenant %q: connection pool exhausted after %s", e.TenantID, e.Timeout)
}
