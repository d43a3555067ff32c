// Package repository provides the identifier mapping store: the durable
// correspondence between source document identifiers and target row
// identifiers, keyed by (kind, source_id).
//
// # Transactions
//
// Writes must run on the chunk transaction that inserts the target rows, so a
// row and its mapping commit or roll back together:
//
//	tx, _ := manager.Begin(ctx)
//	defer tx.Rollback()
//	ids, _ := tx.InsertBatch(rows)
//	err := store.WithTx(tx.DB()).RecordBatch(ctx, kind, pairs)
//
// # Idempotency
//
// Record and RecordBatch are atomic upserts guarded by the unique index on
// (kind, source_id). Re-recording an identical pair is a no-op; recording a
// different target for a mapped source fails with DuplicateMappingError and
// is never resolved automatically.
package repository
