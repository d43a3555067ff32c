// Package metrics provides migration metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MigrationMetrics contains Prometheus metrics for the chunked migration engine.
type MigrationMetrics struct {
	registry *prometheus.Registry

	// Chunk metrics
	chunksTotal   *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
	chunkRetries  *prometheus.CounterVec

	// Record metrics
	recordsTotal *prometheus.CounterVec

	// Kind lifecycle metrics
	kindStateGauge  *prometheus.GaugeVec
	kindProgress    *prometheus.GaugeVec
	kindDuration    *prometheus.HistogramVec
	kindFailures    *prometheus.CounterVec
	verifyWarnings  *prometheus.CounterVec
	resolverLookups *prometheus.CounterVec

	collectors []prometheus.Collector
}

// kindStates lists every value of the kind_state gauge's state label.
var kindStates = []string{"not_started", "in_progress", "completed", "failed"}

// NewMigrationMetrics creates and registers migration metrics.
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	m := &MigrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MigrationMetrics) initMetrics() {
	m.chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_chunks_total",
			Help: "Total number of chunks processed",
		},
		[]string{"kind", "status"}, // status: committed, skipped, failed
	)

	m.chunkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcmigrate_chunk_duration_seconds",
			Help:    "Time taken to fetch, transform, resolve and write one chunk",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"kind"},
	)

	m.chunkRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_chunk_retries_total",
			Help: "Total number of chunk transaction retries",
		},
		[]string{"kind", "reason"},
	)

	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_records_total",
			Help: "Total number of records written or reused",
		},
		[]string{"kind", "outcome"}, // outcome: inserted, reused
	)

	m.kindStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcmigrate_kind_state",
			Help: "Current lifecycle state of each kind (1 for the active state)",
		},
		[]string{"kind", "state"},
	)

	m.kindProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qcmigrate_kind_progress_records",
			Help: "Source offset covered by committed or skipped chunks",
		},
		[]string{"kind"},
	)

	m.kindDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcmigrate_kind_duration_seconds",
			Help:    "Time taken to migrate one kind",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15), // 1s to ~9h
		},
		[]string{"kind", "state"},
	)

	m.kindFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_kind_failures_total",
			Help: "Total number of kinds that ended failed, by error type",
		},
		[]string{"kind", "error_type"},
	)

	m.verifyWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_verification_warnings_total",
			Help: "Total number of consistency warnings raised by verification",
		},
		[]string{"kind", "check"},
	)

	m.resolverLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcmigrate_resolver_lookups_total",
			Help: "Reference lookups served from cache or the mapping store",
		},
		[]string{"kind", "result"}, // result: hit, miss
	)

	m.collectors = []prometheus.Collector{
		m.chunksTotal,
		m.chunkDuration,
		m.chunkRetries,
		m.recordsTotal,
		m.kindStateGauge,
		m.kindProgress,
		m.kindDuration,
		m.kindFailures,
		m.verifyWarnings,
		m.resolverLookups,
	}
}

// Describe implements the Collector interface
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordChunk records a processed chunk and how long it took.
func (m *MigrationMetrics) RecordChunk(kind, status string, seconds float64) {
	m.chunksTotal.WithLabelValues(kind, status).Inc()
	if status != StatusSkipped {
		m.chunkDuration.WithLabelValues(kind).Observe(seconds)
	}
}

// RecordRetry records a chunk retry.
func (m *MigrationMetrics) RecordRetry(kind, reason string) {
	m.chunkRetries.WithLabelValues(kind, reason).Inc()
}

// RecordRecords adds to the inserted or reused record counter.
func (m *MigrationMetrics) RecordRecords(kind, outcome string, n int) {
	if n > 0 {
		m.recordsTotal.WithLabelValues(kind, outcome).Add(float64(n))
	}
}

// SetKindState marks state as the active state of kind.
func (m *MigrationMetrics) SetKindState(kind, state string) {
	for _, s := range kindStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.kindStateGauge.WithLabelValues(kind, s).Set(value)
	}
}

// SetProgress records the covered source offset of kind.
func (m *MigrationMetrics) SetProgress(kind string, offset int64) {
	m.kindProgress.WithLabelValues(kind).Set(float64(offset))
}

// RecordKindDuration records how long a kind took to reach state.
func (m *MigrationMetrics) RecordKindDuration(kind, state string, seconds float64) {
	m.kindDuration.WithLabelValues(kind, state).Observe(seconds)
}

// RecordKindFailure records a kind ending failed.
func (m *MigrationMetrics) RecordKindFailure(kind, errorType string) {
	m.kindFailures.WithLabelValues(kind, errorType).Inc()
}

// RecordVerificationWarning records a consistency warning.
func (m *MigrationMetrics) RecordVerificationWarning(kind, check string) {
	m.verifyWarnings.WithLabelValues(kind, check).Inc()
}

// RecordResolverLookup records cache hits or misses of the reference resolver.
func (m *MigrationMetrics) RecordResolverLookup(kind, result string, n int) {
	if n > 0 {
		m.resolverLookups.WithLabelValues(kind, result).Add(float64(n))
	}
}
