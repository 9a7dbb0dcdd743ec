// Package harness runs offline-sync scenarios end to end.
//
// A scenario drives a real app (store, queues, engines, capture) over an
// on-disk SQLite database, with a scripted remote, manual connectivity and a
// fixed clock, then checks the remote calls and the final local state.
//
// # Scenario Format
//
//	name: reconnect_drains_queue
//	description: "Queued captures upload on reconnect"
//	identity: driver-1
//	online: true
//	work_units:
//	  - { id: D-1, lat: 4.6097, lng: -74.0817 }
//	steps:
//	  - sync: {}
//	  - set_online: false
//	  - capture: { unit: D-1, offset_m: 50 }
//	  - set_online: true
//	  - sync:
//	      expect: { uploaded: 1 }
//	assertions:
//	  - type: pending_count
//	    count: 0
//	  - type: final_state
//	    table: evidence
//	    where: { work_unit_id: D-1 }
//	    expect: { synced: 1 }
//
// # Steps
//
//   - sync: run one reconciliation cycle, optionally checking the report
//   - set_online: flip the connectivity source and wait for the monitor
//   - capture: capture evidence offset_m meters north of the unit
//   - set_status: record a status change without evidence
//   - fail: script failures of the next remote calls
//   - requeue: release parked items
//   - restart: close and reopen the app over the same database
//
// # Assertion Types
//
//   - call_count: number of remote calls of an op, optionally for one unit
//   - call_order: first occurrences of ops appear in order
//   - pending_count, stuck_count: queue state of the scenario's kind
//   - final_state: one row of a local table holds the expected values
//
// Runs are deterministic: step outcomes and remote calls are compared
// against golden files under testdata/golden.
package harness
