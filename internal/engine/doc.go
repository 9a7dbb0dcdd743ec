// Package engine runs reconciliation cycles for one work-unit kind.
//
// A cycle uploads queued mutations oldest-first, then downloads the
// authoritative work-unit set, then records its completion time.
//
// Single flight:
// At most one cycle runs per Engine. A RunCycle call that finds a cycle in
// progress returns syncerr.CycleAlreadyRunning without touching the queue or
// the transport. Connectivity transitions, manual sync and startup all go
// through the same entry point, so no other locking is needed.
//
// Ordering:
// Uploads are sequential. A failed item never stops the cycle, but later
// items for the same work unit are held back until the next cycle so the
// server never sees a status change ahead of the evidence it depends on.
//
// Cancellation:
// A cycle is not cancelled mid-flight. Run detaches the cycle from the loop
// context; remote calls are bounded by the transport's own timeouts.
package engine
