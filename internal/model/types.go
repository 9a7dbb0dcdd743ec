package model

import (
	"fmt"
	"time"
)

// Kind identifies a family of work units. One queue and one engine instance
// exist per kind, sharing a single local database.
type Kind string

const (
	// KindDelivery is a driver delivery stop.
	KindDelivery Kind = "delivery"
	// KindServiceOrder is a technician service order.
	KindServiceOrder Kind = "service_order"
)

// Kinds returns every known work-unit kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindDelivery, KindServiceOrder}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDelivery || k == KindServiceOrder
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown work unit kind %q", s)
	}
	return k, nil
}

// Status is the lifecycle state of a work unit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates fall inside the WGS84 range.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// microdegrees returns the position as integer millionths of a degree.
// Content keys hash these instead of floats so the key is stable.
func (c Coordinates) microdegrees() (int64, int64) {
	return int64(c.Lat * 1e6), int64(c.Lng * 1e6)
}

// WorkUnit is one assignable piece of field work, cached from the server.
type WorkUnit struct {
	Kind       Kind         `json:"kind"`
	ID         string       `json:"id"`
	Reference  string       `json:"reference,omitempty"`
	ClientName string       `json:"client_name,omitempty"`
	Address    string       `json:"address,omitempty"`
	Location   *Coordinates `json:"location,omitempty"`
	AmountDue  float64      `json:"amount_due"`
	Priority   int          `json:"priority"`
	Status     Status       `json:"status"`
	AssignedAt string       `json:"assigned_at,omitempty"`
	Synced     bool         `json:"synced"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Validate checks the fields a downloaded work unit must carry.
func (w WorkUnit) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("work unit: id is required")
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("work unit %s: invalid kind %q", w.ID, w.Kind)
	}
	if !w.Status.Valid() {
		return fmt.Errorf("work unit %s: invalid status %q", w.ID, w.Status)
	}
	if w.Location != nil && !w.Location.Valid() {
		return fmt.Errorf("work unit %s: coordinates out of range", w.ID)
	}
	return nil
}

// EvidenceType is the kind of proof artifact captured.
type EvidenceType string

const (
	EvidencePhoto     EvidenceType = "photo"
	EvidenceSignature EvidenceType = "signature"
	EvidenceForm      EvidenceType = "form"
)

// Valid reports whether t is a known evidence type.
func (t EvidenceType) Valid() bool {
	return t == EvidencePhoto || t == EvidenceSignature || t == EvidenceForm
}

// Evidence is a captured proof artifact tied to exactly one work unit.
// It is immutable once written; corrections create a new record.
type Evidence struct {
	ID          int64        `json:"id"`
	Kind        Kind         `json:"kind"`
	WorkUnitID  string       `json:"work_unit_id"`
	Type        EvidenceType `json:"type"`
	Payload     []byte       `json:"payload,omitempty"`
	Signature   []byte       `json:"signature,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Reading     string       `json:"reading,omitempty"`
	ActionTaken string       `json:"action_taken,omitempty"`
	Location    *Coordinates `json:"location,omitempty"`
	CapturedAt  time.Time    `json:"captured_at"`
	ContentKey  string       `json:"content_key"`
	Synced      bool         `json:"synced"`
}

// Family names the record family a queue item targets.
type Family string

const (
	FamilyWorkUnits Family = "work_units"
	FamilyEvidence  Family = "evidence"
)

// FailureKind classifies the last failed delivery attempt of a queue item.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransport FailureKind = "transport"
	FailureRejected  FailureKind = "rejected"
)

// QueueItem is a durable intent to mutate remote state.
type QueueItem struct {
	ID          int64       `json:"id"`
	Kind        Kind        `json:"kind"`
	Action      Action      `json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

// Parked reports whether the item has been rejected by the server at least
// budget times. Parked items stay queued but are not retried automatically.
func (q QueueItem) Parked(budget int) bool {
	return q.FailureKind == FailureRejected && budget > 0 && q.Attempts >= budget
}
