// Package telemetry provides application-level observability for the Shield
// backend.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SHIELD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// The endpoint is not served by the Gin router, so it never passes through the
// rate-limit or auth middleware.
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/admin/roles/:id) rather than the raw request URL to prevent
// unbounded label cardinality from user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Access sync metrics — recorded by the Keycloak access synchronization job.
//
// AccessSyncDuration observes one complete reconciliation pass. Processed
// counts every identity-provider user examined; synced counts those whose
// grants were written; user errors count per-user failures that were isolated
// and skipped.
//
// Example PromQL queries:
//   - Success ratio:  access_sync_users_synced_total / access_sync_users_processed_total
//   - Alert:          increase(access_sync_user_errors_total[1h]) > 10
var (
	AccessSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "access_sync_duration_seconds",
			Help:    "Duration of a complete access synchronization pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	AccessSyncUsersProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_sync_users_processed_total",
			Help: "Total number of identity-provider users examined by the access sync job.",
		},
	)

	AccessSyncUsersSyncedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_sync_users_synced_total",
			Help: "Total number of users whose access grants were successfully synchronized.",
		},
	)

	AccessSyncUserErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_sync_user_errors_total",
			Help: "Total number of per-user sync failures that were isolated and skipped.",
		},
	)
)

// Principal resolution and cache metrics.
//
// CacheCoalescedLoadsTotal counts cache-miss computations that were shared
// between concurrent callers — each increment is a database round-trip saved.
var (
	PrincipalResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "principal_resolutions_total",
			Help: "Total number of principal resolutions, by outcome (granted, empty, bootstrap).",
		},
		[]string{"outcome"},
	)

	CacheCoalescedLoadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_coalesced_loads_total",
			Help: "Total number of concurrent cache-miss callers served by another caller's in-flight load.",
		},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits when the database becomes
// unreachable, which happens when the application shuts down and defers
// db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
