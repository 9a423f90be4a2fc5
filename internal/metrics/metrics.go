// Package metrics collects and exposes Prometheus metrics for the tenant
// subsystem. Callers that do not run a metrics endpoint use Nop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the recording interface the router and provisioner call.
type Collector interface {
	// ConnectionOpened records a new tenant pool being created.
	ConnectionOpened(tenantID string)
	// ConnectionReused records a router hit on an existing handle.
	ConnectionReused(tenantID string)
	// LazyProvision records a tenant provisioned on first access.
	LazyProvision(tenantID string)
	// TenantProvisioned records a successful provisioning per strategy.
	TenantProvisioned(strategy string)
	// AcquireLatency records time spent creating or fetching a handle.
	AcquireLatency(d time.Duration)
	// AcquireTimeout records a pool-exhaustion timeout.
	AcquireTimeout(tenantID string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ConnectionOpened(string)      {}
func (Nop) ConnectionReused(string)      {}
func (Nop) LazyProvision(string)         {}
func (Nop) TenantProvisioned(string)     {}
func (Nop) AcquireLatency(time.Duration) {}
func (Nop) AcquireTimeout(string)        {}

// PrometheusCollector implements Collector on a prometheus.Registerer.
type PrometheusCollector struct {
	connOpened     *prometheus.CounterVec
	connReused     *prometheus.CounterVec
	lazyProvision  *prometheus.CounterVec
	provisioned    *prometheus.CounterVec
	acquireLatency prometheus.Histogram
	acquireTimeout *prometheus.CounterVec
}

// NewCollector registers the subsystem metrics on reg and returns the
// collector.
func NewCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docex_tenant_connections_opened_total",
			Help: "Tenant connection pools created by the router.",
		}, []string{"tenant"}),
		connReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docex_tenant_connections_reused_total",
			Help: "Router hits on an already-pooled tenant handle.",
		}, []string{"tenant"}),
		lazyProvision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docex_tenant_lazy_provisions_total",
			Help: "Tenants provisioned on first access in lazy router mode.",
		}, []string{"tenant"}),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docex_tenants_provisioned_total",
			Help: "Successful tenant provisionings by isolation strategy.",
		}, []string{"strategy"}),
		acquireLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docex_tenant_handle_acquire_seconds",
			Help:    "Time to create or fetch a tenant handle from the router.",
			Buckets: prometheus.DefBuckets,
		}),
		acquireTimeout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docex_tenant_pool_timeouts_total",
			Help: "Connection acquisitions that hit the pool-exhaustion timeout.",
		}, []string{"tenant"}),
	}
	reg.MustRegister(c.connOpened, c.connReused, c.lazyProvision, c.provisioned, c.acquireLatency, c.acquireTimeout)
	return c
}

func (c *PrometheusCollector) ConnectionOpened(tenantID string) {
	c.connOpened.WithLabelValues(tenantID).Inc()
}

func (c *PrometheusCollector) ConnectionReused(tenantID string) {
	c.connReused.WithLabelValues(tenantID).Inc()
}

func (c *PrometheusCollector) LazyProvision(tenantID string) {
	c.lazyProvision.WithLabelValues(tenantID).Inc()
}

func (c *PrometheusCollector) TenantProvisioned(strategy string) {
	c.provisioned.WithLabelValues(strategy).Inc()
}

func (c *PrometheusCollector) AcquireLatency(d time.Duration) {
	c.acquireLatency.Observe(d.Seconds())
}

func (c *PrometheusCollector) AcquireTimeout(tenantID string) {
	c.acquireTimeout.WithLabelValues(tenantID).Inc()
}

// Handler serves the registry's metrics over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
