// Package store provides the SQLite-backed run journal.
//
// The journal is append-only and records, per run:
//   - Runs: one row per invocation of the dispatch loop
//   - Events: job scheduled, completed and failed records, stamped by the
//     run's logical clock
//   - Archive: job and item records removed from active state by
//     invalidation, with the folder they were relocated to
//
// The workflow state file remains the source of truth for resumption; the
// journal is the audit trail behind it.
//
// # Ordering
//
// All ordering uses seq (logical clock), never timestamps. Queries order by
// seq ASC, id ASC COLLATE BINARY so results are identical across reads.
//
// # Identity
//
// Event ids are content digests (ir.Digest under ir.DomainEvent) of the
// event's canonical encoding, so writing the same event twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
