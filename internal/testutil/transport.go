package testutil

import (
	"context"
	"sync"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Op names a remote call made through FakeTransport.
type Op string

const (
	OpFetch          Op = "fetch"
	OpUpdateStatus   Op = "update_status"
	OpUploadEvidence Op = "upload_evidence"
)

// Call is one recorded remote call. Result is "ok", "duplicate" (evidence
// the server already had), "transport" or "rejected".
type Call struct {
	Op         Op     `yaml:"op" json:"op"`
	WorkUnitID string `yaml:"work_unit_id,omitempty" json:"work_unit_id,omitempty"`
	Status     string `yaml:"status,omitempty" json:"status,omitempty"`
	Identity   string `yaml:"identity,omitempty" json:"identity,omitempty"`
	ContentKey string `yaml:"content_key,omitempty" json:"content_key,omitempty"`
	Result     string `yaml:"result" json:"result"`
}

type scriptKey struct {
	op   Op
	unit string
}

// FakeTransport is a scripted in-memory remote authority.
//
// It behaves like an idempotent server: status updates overwrite and show
// up in later downloads, and evidence is stored once per content key. Failures are scripted per
// operation and work unit and consumed in order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeTransport struct {
	mu       sync.Mutex
	calls    []Call
	units    []model.WorkUnit
	scripts  map[scriptKey][]error
	offline  bool
	hook     func(Call)
	evidence map[string]int
	statuses map[string]model.Status
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a reachable server with no work units.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		scripts:  make(map[scriptKey][]error),
		evidence: make(map[string]int),
		statuses: make(map[string]model.Status),
	}
}

// SetWorkUnits replaces the set returned by FetchWorkUnits.
func (f *FakeTransport) SetWorkUnits(units ...model.WorkUnit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = append([]model.WorkUnit(nil), units...)
}

// SetOffline makes every call fail with a TransportFailure while true.
func (f *FakeTransport) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Fail scripts the next len(errs) calls of op for workUnitID to return errs
// in order. An empty workUnitID matches any work unit. A nil entry lets
// that call succeed.
func (f *FakeTransport) Fail(op Op, workUnitID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := scriptKey{op, workUnitID}
	f.scripts[k] = append(f.scripts[k], errs...)
}

// OnCall installs fn, called before each call is answered. fn may block;
// tests use it to hold a cycle in flight.
func (f *FakeTransport) OnCall(fn func(Call)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = fn
}

// Calls returns a copy of every call made so far, in order.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many calls of op were made.
func (f *FakeTransport) CallCount(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// EvidenceCount returns how many times evidence with contentKey was
// received, duplicates included.
func (f *FakeTransport) EvidenceCount(contentKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evidence[contentKey]
}

// StoredEvidence returns the number of distinct evidence records held.
func (f *FakeTransport) StoredEvidence() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evidence)
}

// ServerStatus returns the last status accepted for workUnitID.
func (f *FakeTransport) ServerStatus(workUnitID string) (model.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[workUnitID]
	return s, ok
}

// FetchWorkUnits implements transport.Transport.
func (f *FakeTransport) FetchWorkUnits(ctx context.Context, identity string) ([]model.WorkUnit, error) {
	var units []model.WorkUnit
	err := f.respond(Call{Op: OpFetch, Identity: identity}, func(c *Call) {
		units = append([]model.WorkUnit(nil), f.units...)
		for i := range units {
			if st, ok := f.statuses[units[i].ID]; ok {
				units[i].Status = st
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// HandleUpdateStatus implements model.ActionHandler.
func (f *FakeTransport) HandleUpdateStatus(ctx context.Context, a model.UpdateStatus) error {
	return f.respond(Call{Op: OpUpdateStatus, WorkUnitID: a.WorkUnitID, Status: string(a.Status)}, func(c *Call) {
		f.statuses[a.WorkUnitID] = a.Status
	})
}

// HandleUploadEvidence implements model.ActionHandler.
func (f *FakeTransport) HandleUploadEvidence(ctx context.Context, a model.UploadEvidence) error {
	return f.respond(Call{Op: OpUploadEvidence, WorkUnitID: a.WorkUnitID, ContentKey: a.ContentKey}, func(c *Call) {
		if f.evidence[a.ContentKey] > 0 {
			c.Result = "duplicate"
		}
		f.evidence[a.ContentKey]++
	})
}

func (f *FakeTransport) respond(call Call, apply func(*Call)) error {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.nextError(call)
	switch {
	case err == nil:
		call.Result = "ok"
		apply(&call)
	case syncerr.IsServerRejected(err):
		call.Result = "rejected"
	default:
		call.Result = "transport"
	}
	f.calls = append(f.calls, call)
	return err
}

func (f *FakeTransport) nextError(call Call) error {
	if f.offline {
		return syncerr.TransportFailure("network unreachable", nil)
	}
	for _, k := range []scriptKey{{call.Op, call.WorkUnitID}, {call.Op, ""}} {
		if errs := f.scripts[k]; len(errs) > 0 {
			f.scripts[k] = errs[1:]
			return errs[0]
		}
	}
	return nil
}
