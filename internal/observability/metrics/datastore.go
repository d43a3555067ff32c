// Package metrics provides datastore metrics for observability
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for target store operations.
type DatastoreMetrics struct {
	registry *prometheus.Registry

	// Transaction metrics
	dbTransactionsTotal      *prometheus.CounterVec
	dbTransactionDuration    *prometheus.HistogramVec
	dbTransactionErrorsTotal *prometheus.CounterVec

	// Connection metrics
	dbConnectionsOpenGauge  prometheus.Gauge
	dbConnectionsInUseGauge prometheus.Gauge
	dbConnectionsIdleGauge  prometheus.Gauge
	dbConnectionsWaitTotal  prometheus.Gauge

	// Table metrics
	dbTableRowCountGauge *prometheus.GaugeVec

	// Resource metrics
	processResidentGauge prometheus.Gauge
	hostAvailableGauge   prometheus.Gauge
	diskFreeGauge        prometheus.Gauge
	diskTotalGauge       prometheus.Gauge

	collectors []prometheus.Collector
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.dbTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_transactions_total",
			Help: "Total number of chunk transactions",
		},
		[]string{"kind", "status"}, // status: committed, rollback
	)

	m.dbTransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_db_transaction_duration_seconds",
			Help:    "Time from begin to commit or rollback of a chunk transaction",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~32s
		},
		[]string{"kind"},
	)

	m.dbTransactionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_transaction_errors_total",
			Help: "Total number of failed chunk transactions by driver error reason",
		},
		[]string{"kind", "reason"},
	)

	m.dbConnectionsOpenGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_open",
		Help: "Number of established connections, in use and idle",
	})
	m.dbConnectionsInUseGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_in_use",
		Help: "Number of connections currently in use",
	})
	m.dbConnectionsIdleGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_idle",
		Help: "Number of idle connections",
	})
	m.dbConnectionsWaitTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_wait_count",
		Help: "Total number of connections waited for",
	})

	m.dbTableRowCountGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datastore_db_table_rows",
			Help: "Number of rows per target table, sampled while migrating",
		},
		[]string{"table"},
	)

	m.processResidentGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qcmigrate_process_resident_memory_bytes",
		Help: "Resident memory of the migration process",
	})
	m.hostAvailableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qcmigrate_host_memory_available_bytes",
		Help: "Memory available on the host running the migration",
	})
	m.diskFreeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qcmigrate_target_disk_free_bytes",
		Help: "Free space on the volume holding a SQLite target",
	})
	m.diskTotalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qcmigrate_target_disk_total_bytes",
		Help: "Size of the volume holding a SQLite target",
	})

	m.collectors = []prometheus.Collector{
		m.dbTransactionsTotal,
		m.dbTransactionDuration,
		m.dbTransactionErrorsTotal,
		m.dbConnectionsOpenGauge,
		m.dbConnectionsInUseGauge,
		m.dbConnectionsIdleGauge,
		m.dbConnectionsWaitTotal,
		m.dbTableRowCountGauge,
		m.processResidentGauge,
		m.hostAvailableGauge,
		m.diskFreeGauge,
		m.diskTotalGauge,
	}
}

// Describe implements the Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordTransaction records a finished chunk transaction.
func (m *DatastoreMetrics) RecordTransaction(kind, status string, seconds float64) {
	m.dbTransactionsTotal.WithLabelValues(kind, status).Inc()
	m.dbTransactionDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordTransactionError records a transaction failure by reason.
func (m *DatastoreMetrics) RecordTransactionError(kind, reason string) {
	m.dbTransactionErrorsTotal.WithLabelValues(kind, reason).Inc()
}

// UpdateConnectionMetrics copies connection pool statistics.
func (m *DatastoreMetrics) UpdateConnectionMetrics(stats sql.DBStats) {
	m.dbConnectionsOpenGauge.Set(float64(stats.OpenConnections))
	m.dbConnectionsInUseGauge.Set(float64(stats.InUse))
	m.dbConnectionsIdleGauge.Set(float64(stats.Idle))
	m.dbConnectionsWaitTotal.Set(float64(stats.WaitCount))
}

// SetTableRowCount records the row count of a target table.
func (m *DatastoreMetrics) SetTableRowCount(table string, rows int64) {
	m.dbTableRowCountGauge.WithLabelValues(table).Set(float64(rows))
}

// SetMemoryUsage records process and host memory figures.
func (m *DatastoreMetrics) SetMemoryUsage(residentBytes, hostAvailableBytes uint64) {
	m.processResidentGauge.Set(float64(residentBytes))
	m.hostAvailableGauge.Set(float64(hostAvailableBytes))
}

// SetTargetDisk records free and total bytes of the target's volume.
func (m *DatastoreMetrics) SetTargetDisk(freeBytes, totalBytes uint64) {
	m.diskFreeGauge.Set(float64(freeBytes))
	m.diskTotalGauge.Set(float64(totalBytes))
}
