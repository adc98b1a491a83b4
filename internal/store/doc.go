// Package store provides SQLite-backed durable storage for propsync
// journals.
//
// A journal is an append-only log of what the presentation side did during
// one session:
//   - Sessions: one row per run or simulated scenario, keyed by UUIDv7
//   - Events: apply, settle and drop records in the order they happened
//
// # Critical Patterns
//
// Logical Identity and Time:
//   - Events are ordered by seq INTEGER (assigned per session), NEVER by
//     wall-clock timestamps
//   - frame_time_us is the scheduler's frame time, not the host clock
//   - Enables identical journals for identical scenarios
//
// Deterministic Query Results:
//   - All event queries MUST include: ORDER BY seq ASC
//
// Canonical Payloads:
//   - Property maps are stored as canonical JSON (sorted keys)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
