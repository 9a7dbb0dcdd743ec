// Package model defines the records shared by every fieldsync component.
//
// This package contains type definitions, the closed set of queued remote
// actions, and the snapshot codec for queue payloads. All other internal
// packages import model; model imports nothing internal.
//
// Key design constraints:
//   - WorkUnits are server-owned; the client never originates one
//   - Evidence is immutable after capture
//   - Queue payloads are frozen JSON snapshots, checked against a CUE
//     schema whenever they are read back
//   - All JSON tags use snake_case
package model
