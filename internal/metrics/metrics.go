// Package metrics exposes pool and routing state as Prometheus gauges and
// histograms. Metrics are opt-in: nothing is registered until InitRegistry
// is called, so a driver embedded in a process that owns its own registry
// never has to see gobolt's metric names unless it asks for them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection against reg. Calling it again
// replaces the active registry; existing collectors are re-registered
// lazily the next time their constructor runs.
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()
	registry = reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// PoolMetrics is the set of collectors describing one DirectPool's state.
type PoolMetrics struct {
	InUse           *prometheus.GaugeVec
	Idle            *prometheus.GaugeVec
	AcquireDuration *prometheus.HistogramVec
	AcquireTimeouts *prometheus.CounterVec
	ConnectionsOpened *prometheus.CounterVec
	ConnectionsClosed *prometheus.CounterVec
}

// NewPoolMetrics creates the pool collectors against the active registry.
// Returns nil if metrics are not enabled.
func NewPoolMetrics() *PoolMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &PoolMetrics{
		InUse: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gobolt_pool_connections_in_use",
			Help: "Connections currently checked out of a direct pool, by server address",
		}, []string{"address"}),
		Idle: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gobolt_pool_connections_idle",
			Help: "Connections currently idle in a direct pool, by server address",
		}, []string{"address"}),
		AcquireDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "gobolt_pool_acquire_duration_milliseconds",
			Help: "Time spent waiting for Acquire to return a connection",
			Buckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"address"}),
		AcquireTimeouts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gobolt_pool_acquire_timeouts_total",
			Help: "Acquire calls that returned ConnectionAcquisitionTimeout",
		}, []string{"address"}),
		ConnectionsOpened: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gobolt_pool_connections_opened_total",
			Help: "Connections successfully dialed and authenticated",
		}, []string{"address"}),
		ConnectionsClosed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gobolt_pool_connections_closed_total",
			Help: "Connections discarded (defunct, stale, or over lifetime)",
		}, []string{"address", "reason"}),
	}
}

// RoutingMetrics describes the cluster-aware routing layer's state.
type RoutingMetrics struct {
	RoutingTableAge  *prometheus.GaugeVec
	RoutingRefreshes *prometheus.CounterVec
	ServersEvicted   *prometheus.CounterVec
}

// NewRoutingMetrics creates the routing collectors against the active
// registry. Returns nil if metrics are not enabled.
func NewRoutingMetrics() *RoutingMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &RoutingMetrics{
		RoutingTableAge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gobolt_routing_table_age_seconds",
			Help: "Seconds since the routing table for a database was last refreshed",
		}, []string{"database"}),
		RoutingRefreshes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gobolt_routing_refreshes_total",
			Help: "Routing table refresh attempts, by outcome",
		}, []string{"database", "outcome"}),
		ServersEvicted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gobolt_routing_servers_evicted_total",
			Help: "Servers removed from a routing table due to a reported error",
		}, []string{"reason"}),
	}
}
