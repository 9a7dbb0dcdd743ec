package capture

import (
	"fmt"
	"strings"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// Closure actions that count as the work being done.
const (
	ActionCompleted   = "completed"
	ActionSuspended   = "suspended"
	ActionCut         = "cut"
	ActionReconnected = "reconnected"
)

// IsEffective reports whether action closes the work unit successfully.
func IsEffective(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionCompleted, ActionSuspended, ActionCut, ActionReconnected:
		return true
	}
	return false
}

// ResolveStatus decides the status a capture writes.
//
// An explicit status wins. Otherwise an effective action completes the unit
// and any other action fails it. No action and no status means the capture
// only adds evidence. A failed outcome always needs a reason.
func ResolveStatus(action string, explicit model.Status, reason string) (model.Status, error) {
	status := explicit
	if status == "" && strings.TrimSpace(action) != "" {
		status = model.StatusFailed
		if IsEffective(action) {
			status = model.StatusCompleted
		}
	}
	if status != "" && !status.Valid() {
		return "", fmt.Errorf("%w: status %q", ErrInvalidRequest, status)
	}
	if status == model.StatusFailed && strings.TrimSpace(reason) == "" {
		return "", fmt.Errorf("%w: a failed outcome requires a reason", ErrInvalidRequest)
	}
	return status, nil
}
