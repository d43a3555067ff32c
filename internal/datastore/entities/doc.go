// Package entities defines the relational schema the document store is migrated
// into, plus the bookkeeping tables the migration engine persists alongside it.
//
// Record tables:
//   - kv_store: blob values referenced by computed results (stdout, stderr, error)
//   - keywords: keyword sets, unique by hash_index
//   - molecule: molecular structures
//   - result: computed results with foreign keys into the three tables above
//
// Bookkeeping tables:
//   - id_mappings: source identifier to target identifier, unique per (kind, source_id)
//   - migration_kind_states: lifecycle and progress of each entity kind
//   - migration_failures: source records that stopped a kind
package entities
