package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics holds all metrics for the vault service.
type VaultMetrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Key management metrics
	KeyFallbacksTotal prometheus.Counter

	// Migration metrics
	MigrationsTotal    *prometheus.CounterVec
	MigrationBatchSize prometheus.Histogram

	// API metrics
	APIRequestDuration *prometheus.HistogramVec
	APIRequestsTotal   *prometheus.CounterVec

	// Document metrics
	DocumentsStored *prometheus.GaugeVec
	BytesStored     *prometheus.GaugeVec
}

// newVaultMetrics creates and registers all vault metrics.
func newVaultMetrics(registry *prometheus.Registry) *VaultMetrics {
	m := &VaultMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total number of vault operations by backend and outcome.",
			},
			[]string{"operation", "backend", "status"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Vault operation latency in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "backend"},
		),

		KeyFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docvault",
				Subsystem: "keys",
				Name:      "fallbacks_total",
				Help:      "Times encryption fell back from the managed key service to local derivation.",
			},
		),

		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docvault",
				Subsystem: "migration",
				Name:      "documents_total",
				Help:      "Total number of migrated documents by outcome.",
			},
			[]string{"status"},
		),

		MigrationBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "docvault",
				Subsystem: "migration",
				Name:      "batch_size",
				Help:      "Number of candidate documents per migration batch.",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docvault",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docvault",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP API requests.",
			},
			[]string{"method", "path", "status"},
		),

		DocumentsStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "docvault",
				Subsystem: "vault",
				Name:      "documents_stored",
				Help:      "Number of documents currently in the vault by backend.",
			},
			[]string{"backend"},
		),

		BytesStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "docvault",
				Subsystem: "vault",
				Name:      "bytes_stored",
				Help:      "Bytes currently stored in the vault by backend.",
			},
			[]string{"backend"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.KeyFallbacksTotal,
		m.MigrationsTotal,
		m.MigrationBatchSize,
		m.APIRequestDuration,
		m.APIRequestsTotal,
		m.DocumentsStored,
		m.BytesStored,
	)

	return m
}

// RecordOperation records a vault operation outcome with its duration.
func (m *VaultMetrics) RecordOperation(operation, backend, status string, durationSeconds float64) {
	m.OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.OperationDuration.WithLabelValues(operation, backend).Observe(durationSeconds)
}

// RecordKeyFallback records a managed-to-local encryption fallback.
func (m *VaultMetrics) RecordKeyFallback() {
	m.KeyFallbacksTotal.Inc()
}

// RecordMigration records a migrated or failed document in a batch.
func (m *VaultMetrics) RecordMigration(status string) {
	m.MigrationsTotal.WithLabelValues(status).Inc()
}

// RecordMigrationBatch records the size of a migration batch.
func (m *VaultMetrics) RecordMigrationBatch(size int) {
	m.MigrationBatchSize.Observe(float64(size))
}

// RecordAPIRequest records an HTTP API request.
func (m *VaultMetrics) RecordAPIRequest(method, path, status string, durationSeconds float64) {
	m.APIRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetStoredTotals sets the per-backend stored document and byte gauges.
func (m *VaultMetrics) SetStoredTotals(backend string, documents, bytes float64) {
	m.DocumentsStored.WithLabelValues(backend).Set(documents)
	m.BytesStored.WithLabelValues(backend).Set(bytes)
}
