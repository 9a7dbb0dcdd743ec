package model

import (
	"context"
	"strings"
	"time"
)

// ActionKind is the stored tag of a queued action.
type ActionKind string

const (
	ActionUpdateStatus   ActionKind = "update_status"
	ActionUploadEvidence ActionKind = "upload_evidence"
)

// ActionHandler receives a queued action by variant. Adding a variant to the
// Action set adds a method here, so every transport must handle it before
// the module compiles again.
type ActionHandler interface {
	HandleUpdateStatus(ctx context.Context, a UpdateStatus) error
	HandleUploadEvidence(ctx context.Context, a UploadEvidence) error
}

// Action is the closed set of remote mutations the queue can carry.
// The unexported marker keeps implementations inside this package.
type Action interface {
	// Kind returns the stored tag for this variant.
	Kind() ActionKind

	// Target returns the record family and identifier the action refers to.
	Target() (Family, string)

	// WorkUnit returns the work unit the action belongs to.
	WorkUnit() string

	// Dispatch calls the handler method matching this variant.
	Dispatch(ctx context.Context, h ActionHandler) error

	isAction()
}

// UpdateStatus pushes a work unit status change to the server.
type UpdateStatus struct {
	WorkUnitID string `json:"work_unit_id"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func (UpdateStatus) Kind() ActionKind { return ActionUpdateStatus }

func (a UpdateStatus) Target() (Family, string) { return FamilyWorkUnits, a.WorkUnitID }

func (a UpdateStatus) WorkUnit() string { return a.WorkUnitID }

func (a UpdateStatus) Dispatch(ctx context.Context, h ActionHandler) error {
	return h.HandleUpdateStatus(ctx, a)
}

func (UpdateStatus) isAction() {}

// UploadEvidence pushes one captured artifact to the server. It is a frozen
// copy of the evidence row taken at capture time.
type UploadEvidence struct {
	EvidenceID  int64        `json:"evidence_id"`
	WorkUnitID  string       `json:"work_unit_id"`
	WorkUnitRef string       `json:"work_unit_ref,omitempty"`
	Type        EvidenceType `json:"type"`
	Payload     []byte       `json:"payload,omitempty"`
	Signature   []byte       `json:"signature,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Reading     string       `json:"reading,omitempty"`
	ActionTaken string       `json:"action_taken,omitempty"`
	Location    *Coordinates `json:"location,omitempty"`
	CapturedAt  time.Time    `json:"captured_at"`
	ContentKey  string       `json:"content_key"`
}

func (UploadEvidence) Kind() ActionKind { return ActionUploadEvidence }

func (a UploadEvidence) Target() (Family, string) {
	return FamilyEvidence, formatID(a.EvidenceID)
}

func (a UploadEvidence) WorkUnit() string { return a.WorkUnitID }

func (a UploadEvidence) Dispatch(ctx context.Context, h ActionHandler) error {
	return h.HandleUploadEvidence(ctx, a)
}

func (UploadEvidence) isAction() {}

// CombinedNotes joins the free-text notes with the reading and closure action
// into the single notes field the server stores.
func (a UploadEvidence) CombinedNotes() string {
	parts := make([]string, 0, 3)
	if a.Notes != "" {
		parts = append(parts, a.Notes)
	}
	if a.Reading != "" {
		parts = append(parts, "reading: "+a.Reading)
	}
	if a.ActionTaken != "" {
		parts = append(parts, "action: "+a.ActionTaken)
	}
	return strings.Join(parts, " | ")
}

// NewUploadEvidence snapshots an evidence row into an upload action.
func NewUploadEvidence(e Evidence, workUnitRef string) UploadEvidence {
	a := UploadEvidence{
		EvidenceID:  e.ID,
		WorkUnitID:  e.WorkUnitID,
		WorkUnitRef: workUnitRef,
		Type:        e.Type,
		Payload:     append([]byte(nil), e.Payload...),
		Signature:   append([]byte(nil), e.Signature...),
		Notes:       e.Notes,
		Reading:     e.Reading,
		ActionTaken: e.ActionTaken,
		CapturedAt:  e.CapturedAt.UTC(),
		ContentKey:  e.ContentKey,
	}
	if len(a.Payload) == 0 {
		a.Payload = nil
	}
	if len(a.Signature) == 0 {
		a.Signature = nil
	}
	if e.Location != nil {
		loc := *e.Location
		a.Location = &loc
	}
	return a
}
