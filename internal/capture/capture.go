// Package capture records field work: it gates completions with the
// geofence, then writes the evidence, the status change and their queue
// items as one durable unit. It never touches the network.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/geofence"
	"github.com/Adriangar333/Traceops-sub000/internal/metrics"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// Default geofence tolerances per kind, in meters.
const (
	DefaultDeliveryTolerance     = 150.0
	DefaultServiceOrderTolerance = 100.0
)

// DefaultTolerance returns the tolerance used for kind when none is set.
func DefaultTolerance(kind model.Kind) float64 {
	if kind == model.KindServiceOrder {
		return DefaultServiceOrderTolerance
	}
	return DefaultDeliveryTolerance
}

// ReasonLocationUnavailable is the rejection message when the device has no
// position fix.
const ReasonLocationUnavailable = "location unavailable"

// ReasonTargetUnavailable is the rejection message when the work unit has no
// coordinates to check against.
const ReasonTargetUnavailable = "target location unavailable"

var (
	// ErrInvalidRequest wraps every request validation failure.
	ErrInvalidRequest = errors.New("invalid capture request")

	// ErrUnknownWorkUnit is returned for a work unit not in the local cache.
	ErrUnknownWorkUnit = errors.New("unknown work unit")
)

// Request describes one capture.
type Request struct {
	WorkUnitID string
	Type       model.EvidenceType
	Payload    []byte // photo bytes
	Signature  []byte
	Notes      string
	Reading    string

	// ActionTaken is the closure action. Effective actions complete the
	// work unit; any other value fails it and requires Reason.
	ActionTaken string

	// Status overrides the status derived from ActionTaken. Empty with no
	// ActionTaken records evidence only.
	Status model.Status
	Reason string

	// Location is the device position; nil when there is no fix.
	Location *model.Coordinates

	// CapturedAt defaults to now. It is stored at millisecond precision.
	CapturedAt time.Time

	// Override records the capture despite a geofence rejection.
	Override       bool
	OverrideReason string
}

// Result is the outcome of Capture. Reason and Message are set only when
// the geofence rejected the attempt.
type Result struct {
	Accepted   bool
	Reason     syncerr.Code
	Message    string
	Verdict    *geofence.Verdict
	EvidenceID int64
	Status     model.Status // status written, empty for evidence-only captures
	QueueItems []int64
}

// Service captures work for one work-unit kind.
type Service struct {
	store     *store.Store
	queue     *queue.Queue
	tolerance float64
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTolerance sets the geofence tolerance in meters.
func WithTolerance(meters float64) Option {
	return func(s *Service) {
		if meters > 0 {
			s.tolerance = meters
		}
	}
}

// WithClock sets the time source for CapturedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a capture service writing through q.
func New(s *store.Store, q *queue.Queue, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		queue:     q,
		tolerance: DefaultTolerance(q.Kind()),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With("kind", string(q.Kind()))
	return svc
}

// Kind returns the work-unit kind this service captures for.
func (s *Service) Kind() model.Kind { return s.queue.Kind() }

// Tolerance returns the geofence tolerance in meters.
func (s *Service) Tolerance() float64 { return s.tolerance }

// Plan is a checked capture that has not been written yet.
type Plan struct {
	Result   Result
	Evidence model.Evidence
	Status   model.Status
	Reason   string
	// Reference is the work unit's business reference sent with uploads.
	Reference string
}

// Prepare validates req against unit and runs the geofence check. Nothing
// is written. A plan whose Result is not accepted must not be recorded.
func Prepare(req Request, unit model.WorkUnit, tolerance float64, now time.Time) (Plan, error) {
	if err := validate(req); err != nil {
		return Plan{}, err
	}
	status, err := ResolveStatus(req.ActionTaken, req.Status, req.Reason)
	if err != nil {
		return Plan{}, err
	}
	if IsEffective(req.ActionTaken) && len(req.Payload) == 0 {
		return Plan{}, fmt.Errorf("%w: action %q requires a photo", ErrInvalidRequest, req.ActionTaken)
	}

	plan := Plan{Status: status, Reason: req.Reason, Reference: unit.Reference}
	notes := req.Notes
	switch {
	case unit.Location == nil:
		if !req.Override {
			plan.Result = rejected(plan.Result, ReasonTargetUnavailable)
			return plan, nil
		}
		notes = appendNote(notes, fmt.Sprintf("geofence override (%s): %s", ReasonTargetUnavailable, req.OverrideReason))
	case req.Location == nil:
		if !req.Override {
			plan.Result = rejected(plan.Result, ReasonLocationUnavailable)
			return plan, nil
		}
		notes = appendNote(notes, fmt.Sprintf("geofence override (%s): %s", ReasonLocationUnavailable, req.OverrideReason))
	default:
		v := geofence.Validate(*req.Location, *unit.Location, tolerance)
		plan.Result.Verdict = &v
		if !v.WithinRange {
			msg := fmt.Sprintf("%d m from target, tolerance %.0f m", v.DistanceMeters, tolerance)
			if !req.Override {
				plan.Result = rejected(plan.Result, msg)
				return plan, nil
			}
			notes = appendNote(notes, fmt.Sprintf("geofence override (%s): %s", msg, req.OverrideReason))
		}
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}
	plan.Evidence = model.Evidence{
		Kind:        unit.Kind,
		WorkUnitID:  unit.ID,
		Type:        req.Type,
		Payload:     req.Payload,
		Signature:   req.Signature,
		Notes:       notes,
		Reading:     req.Reading,
		ActionTaken: req.ActionTaken,
		Location:    req.Location,
		CapturedAt:  capturedAt.UTC().Truncate(time.Millisecond),
	}
	if plan.Evidence.ContentKey, err = model.ContentKey(plan.Evidence); err != nil {
		return Plan{}, fmt.Errorf("content key: %w", err)
	}
	plan.Result.Accepted = true
	plan.Result.Status = status
	return plan, nil
}

func rejected(res Result, msg string) Result {
	res.Accepted = false
	res.Reason = syncerr.CodeGeofenceRejected
	res.Message = msg
	return res
}

// Capture validates req, checks the geofence and, if accepted, writes the
// evidence, any status change and their queue items in one transaction.
//
// A geofence rejection is an ordinary Result with Accepted=false, not an
// error. Errors mean the request was malformed or nothing was saved.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	kind := s.queue.Kind()
	unit, err := s.store.GetWorkUnit(ctx, kind, req.WorkUnitID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnknownWorkUnit, kind, req.WorkUnitID)
	}
	if err != nil {
		return Result{}, err
	}

	plan, err := Prepare(req, unit, s.tolerance, s.now())
	if err != nil {
		return Result{}, err
	}
	if !plan.Result.Accepted {
		s.rejected(req, plan.Result)
		return plan.Result, nil
	}

	ev := plan.Evidence
	var items []int64
	err = s.queue.Mutate(ctx, func(tx *store.Tx, enqueue queue.EnqueueFunc) error {
		items = items[:0]
		id, err := tx.InsertEvidence(ctx, ev)
		if err != nil {
			return err
		}
		ev.ID = id

		item, err := enqueue(model.NewUploadEvidence(ev, plan.Reference))
		if err != nil {
			return err
		}
		items = append(items, item)

		if plan.Status == "" {
			return nil
		}
		if err := tx.SetWorkUnitStatus(ctx, kind, req.WorkUnitID, plan.Status); err != nil {
			return err
		}
		item, err = enqueue(model.UpdateStatus{WorkUnitID: req.WorkUnitID, Status: plan.Status, Reason: plan.Reason})
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("capture %s: %w", req.WorkUnitID, err)
	}

	s.logger.Info("captured evidence",
		"work_unit_id", req.WorkUnitID,
		"evidence_id", ev.ID,
		"status", string(plan.Status),
		"override", req.Override,
	)
	res := plan.Result
	res.EvidenceID = ev.ID
	res.QueueItems = items
	return res, nil
}

func (s *Service) rejected(req Request, res Result) {
	metrics.RecordGeofenceRejection(string(s.queue.Kind()))
	s.logger.Info("capture rejected by geofence", "work_unit_id", req.WorkUnitID, "reason", res.Message)
}

// SetStatus records a status change without evidence, such as starting
// work on a unit.
func (s *Service) SetStatus(ctx context.Context, workUnitID string, status model.Status, reason string) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: status %q", ErrInvalidRequest, status)
	}
	if status == model.StatusFailed && strings.TrimSpace(reason) == "" {
		return 0, fmt.Errorf("%w: failed status requires a reason", ErrInvalidRequest)
	}

	kind := s.queue.Kind()
	var item int64
	err := s.queue.Mutate(ctx, func(tx *store.Tx, enqueue queue.EnqueueFunc) error {
		if err := tx.SetWorkUnitStatus(ctx, kind, workUnitID, status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrUnknownWorkUnit, kind, workUnitID)
			}
			return err
		}
		var err error
		item, err = enqueue(model.UpdateStatus{WorkUnitID: workUnitID, Status: status, Reason: reason})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("set status %s: %w", workUnitID, err)
	}
	return item, nil
}

// PendingCount returns the number of queued mutations, parked ones
// included.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.queue.PendingCount(ctx)
}

// Subscribe registers fn for queue changes.
func (s *Service) Subscribe(fn func(queue.Event)) (unsubscribe func()) {
	return s.queue.Subscribe(fn)
}

// WorkUnits lists cached work units in triage order.
func (s *Service) WorkUnits(ctx context.Context, statuses ...model.Status) ([]model.WorkUnit, error) {
	return s.store.ListWorkUnits(ctx, s.queue.Kind(), statuses...)
}

func validate(req Request) error {
	if strings.TrimSpace(req.WorkUnitID) == "" {
		return fmt.Errorf("%w: work unit id is required", ErrInvalidRequest)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: evidence type %q", ErrInvalidRequest, req.Type)
	}
	switch {
	case req.Type == model.EvidencePhoto && len(req.Payload) == 0:
		return fmt.Errorf("%w: photo evidence without payload", ErrInvalidRequest)
	case req.Type == model.EvidenceSignature && len(req.Signature) == 0:
		return fmt.Errorf("%w: signature evidence without signature", ErrInvalidRequest)
	}
	if req.Location != nil && !req.Location.Valid() {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidRequest)
	}
	if req.Override && strings.TrimSpace(req.OverrideReason) == "" {
		return fmt.Errorf("%w: override requires a reason", ErrInvalidRequest)
	}
	return nil
}

func appendNote(notes, extra string) string {
	if notes == "" {
		return extra
	}
	return notes + " | " + extra
}
