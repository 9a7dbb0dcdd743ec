// Package store provides SQLite-backed durable storage for offline field work.
//
// Four record families live in one database:
//   - work_units: assignments cached from the server, keyed by (kind, id)
//   - evidence: captured proof artifacts awaiting upload
//   - sync_queue: frozen mutation intents, drained oldest-first
//   - app_state: singleton facts such as identity and last sync time
//
// Multi-record writes go through WithTx so a capture (status change, evidence
// row, queue items) is committed as one unit or not at all.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Evidence must reference a cached work unit
//
// Queue ordering always uses the AUTOINCREMENT id, never timestamps.
package store
