// Package store provides the SQLite-backed merge-run ledger.
//
// The ledger records:
//   - Merge runs: one row per merge, with its inputs, mode and stats
//   - Lowering events: every edge a live trace lowered, per run
//   - Routines: an imported routine catalog for reporting tools
//
// # Ordering
//
// Runs carry a seq INTEGER assigned at insert time. All queries order by
// seq, then id COLLATE BINARY, so reports are identical across machines
// regardless of wall clock.
//
// # Idempotency
//
// Run IDs are UUIDv7 strings. Recording the same run twice is a no-op, and
// catalog imports upsert by hash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
