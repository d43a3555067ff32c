// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Chunk status label values.
const (
	// StatusCommitted marks a chunk whose rows and mappings committed.
	StatusCommitted = "committed"
	// StatusSkipped marks a chunk resume found already migrated.
	StatusSkipped = "skipped"
	// StatusFailed marks a chunk that exhausted retries or failed permanently.
	StatusFailed = "failed"
	// StatusRolledBack marks a transaction that was rolled back.
	StatusRolledBack = "rollback"
)

// Record outcome label values.
const (
	// OutcomeInserted counts rows written by this run.
	OutcomeInserted = "inserted"
	// OutcomeReused counts rows already mapped by an earlier attempt.
	OutcomeReused = "reused"
)

// Cache result label values.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second
