package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Transaction metrics
	StageFailuresTotal *prometheus.CounterVec
	RollbacksTotal     *prometheus.CounterVec

	// Lenient-skip and best-effort paths
	AuthenticatorsSkippedTotal   *prometheus.CounterVec
	AuthenticatorsCreatedTotal   *prometheus.CounterVec
	ProtocolRemovalFailuresTotal *prometheus.CounterVec

	// File registry
	FileRegistryReloadsTotal *prometheus.CounterVec
	FileRegistryApplications prometheus.Gauge

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_operations_total",
				Help: "Total number of application management operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appmgt_operation_duration_seconds",
				Help:    "Application management operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StageFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_stage_failures_total",
				Help: "Total number of write transactions that failed, by stage",
			},
			[]string{"operation", "stage"},
		),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_rollbacks_total",
				Help: "Total number of transaction rollbacks",
			},
			[]string{"operation", "result"},
		),
		AuthenticatorsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_authenticator_skipped_total",
				Help: "Total number of step authenticators skipped because they could not be resolved",
			},
			[]string{"source", "reason"},
		),
		AuthenticatorsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_authenticator_created_total",
				Help: "Total number of authenticator identities created on first use",
			},
			[]string{"source"},
		),
		ProtocolRemovalFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_protocol_removal_failures_total",
				Help: "Total number of protocol client registrations that could not be removed",
			},
			[]string{"type"},
		),
		FileRegistryReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appmgt_file_registry_reloads_total",
				Help: "Total number of file registry reloads",
			},
			[]string{"status"},
		),
		FileRegistryApplications: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmgt_file_registry_applications",
				Help: "Number of applications defined by the file registry",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmgt_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmgt_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmgt_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "appmgt_db_connections_wait_duration_seconds",
				Help: "Total time blocked waiting for a new connection",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.StageFailuresTotal,
		m.RollbacksTotal,
		m.AuthenticatorsSkippedTotal,
		m.AuthenticatorsCreatedTotal,
		m.ProtocolRemovalFailuresTotal,
		m.FileRegistryReloadsTotal,
		m.FileRegistryApplications,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorders below are nil-safe so components can run without metrics.

// ObserveOperation records the outcome and duration of a public operation
func (m *Metrics) ObserveOperation(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordStageFailure records a failed write stage
func (m *Metrics) RecordStageFailure(operation, stage string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(operation, stage).Inc()
}

// RecordRollback records a rollback and whether it succeeded
func (m *Metrics) RecordRollback(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.RollbacksTotal.WithLabelValues(operation, result).Inc()
}

// RecordAuthenticatorSkipped records a skipped step authenticator
func (m *Metrics) RecordAuthenticatorSkipped(source, reason string) {
	if m == nil {
		return
	}
	m.AuthenticatorsSkippedTotal.WithLabelValues(source, reason).Inc()
}

// RecordAuthenticatorCreated records a lazily created authenticator
func (m *Metrics) RecordAuthenticatorCreated(source string) {
	if m == nil {
		return
	}
	m.AuthenticatorsCreatedTotal.WithLabelValues(source).Inc()
}

// RecordProtocolRemovalFailure records a failed best-effort client removal
func (m *Metrics) RecordProtocolRemovalFailure(inboundType string) {
	if m == nil {
		return
	}
	m.ProtocolRemovalFailuresTotal.WithLabelValues(inboundType).Inc()
}

// RecordFileRegistryReload records a file registry reload
func (m *Metrics) RecordFileRegistryReload(ok bool, applications int) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.FileRegistryReloadsTotal.WithLabelValues(status).Inc()
	if ok {
		m.FileRegistryApplications.Set(float64(applications))
	}
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}
