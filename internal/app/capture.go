package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adriangar333/Traceops-sub000/internal/capture"
	"github.com/Adriangar333/Traceops-sub000/internal/metrics"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Capture records evidence for a work unit of kind. In offline-capable mode
// it is queued and a cycle is triggered when online. In online-only mode
// it is sent at once and fails with StorageUnavailable while offline.
func (a *App) Capture(ctx context.Context, kind model.Kind, req capture.Request) (capture.Result, error) {
	lane, err := a.Lane(kind)
	if err != nil {
		return capture.Result{}, err
	}
	if lane.Capture == nil {
		return a.captureDirect(ctx, lane, req)
	}

	res, err := lane.Capture.Capture(ctx, req)
	if err == nil && res.Accepted {
		a.kick(lane)
	}
	return res, err
}

// SetStatus records a status change without evidence.
func (a *App) SetStatus(ctx context.Context, kind model.Kind, workUnitID string, status model.Status, reason string) error {
	lane, err := a.Lane(kind)
	if err != nil {
		return err
	}
	if lane.Capture == nil {
		if err := a.directReady(lane); err != nil {
			return err
		}
		err := transport.ClassifyError(transport.Send(ctx, lane.Transport, model.UpdateStatus{WorkUnitID: workUnitID, Status: status, Reason: reason}))
		if err != nil {
			return err
		}
		a.setCachedStatus(kind, workUnitID, status)
		return nil
	}
	if _, err := lane.Capture.SetStatus(ctx, workUnitID, status, reason); err != nil {
		return err
	}
	a.kick(lane)
	return nil
}

func (a *App) kick(lane *Lane) {
	if lane.Engine != nil && a.online() {
		lane.Engine.Trigger()
	}
}

func (a *App) directReady(lane *Lane) error {
	if lane.Transport == nil {
		return ErrNoRemote
	}
	if !a.online() {
		return syncerr.StorageUnavailable("save offline", errors.New("local storage is unavailable and the remote is unreachable"))
	}
	return nil
}

func (a *App) captureDirect(ctx context.Context, lane *Lane, req capture.Request) (capture.Result, error) {
	if err := a.directReady(lane); err != nil {
		return capture.Result{}, err
	}
	unit, ok := a.cachedUnit(lane.Kind, req.WorkUnitID)
	if !ok {
		return capture.Result{}, fmt.Errorf("%w: %s/%s", capture.ErrUnknownWorkUnit, lane.Kind, req.WorkUnitID)
	}

	plan, err := capture.Prepare(req, unit, lane.Tolerance, a.now())
	if err != nil {
		return capture.Result{}, err
	}
	if !plan.Result.Accepted {
		metrics.RecordGeofenceRejection(string(lane.Kind))
		return plan.Result, nil
	}

	upload := model.NewUploadEvidence(plan.Evidence, plan.Reference)
	err = transport.ClassifyError(transport.Send(ctx, lane.Transport, upload))
	metrics.RecordUpload(string(lane.Kind), string(upload.Kind()), outcome(err))
	if err != nil {
		return capture.Result{}, err
	}
	if plan.Status != "" {
		update := model.UpdateStatus{WorkUnitID: unit.ID, Status: plan.Status, Reason: plan.Reason}
		err = transport.ClassifyError(transport.Send(ctx, lane.Transport, update))
		metrics.RecordUpload(string(lane.Kind), string(update.Kind()), outcome(err))
		if err != nil {
			return capture.Result{}, err
		}
		a.setCachedStatus(lane.Kind, unit.ID, plan.Status)
	}
	return plan.Result, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case syncerr.IsServerRejected(err):
		return string(model.FailureRejected)
	}
	return string(model.FailureTransport)
}

func (a *App) cachedUnit(kind model.Kind, id string) (model.WorkUnit, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, u := range a.cache[kind] {
		if u.ID == id {
			return u, true
		}
	}
	return model.WorkUnit{}, false
}

func (a *App) setCachedStatus(kind model.Kind, id string, status model.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.cache[kind] {
		if a.cache[kind][i].ID == id {
			a.cache[kind][i].Status = status
		}
	}
}

// WorkUnits lists the cached work units of kind in triage order.
func (a *App) WorkUnits(ctx context.Context, kind model.Kind, statuses ...model.Status) ([]model.WorkUnit, error) {
	lane, err := a.Lane(kind)
	if err != nil {
		return nil, err
	}
	if lane.Capture != nil {
		return lane.Capture.WorkUnits(ctx, statuses...)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.WorkUnit
	for _, u := range a.cache[kind] {
		if len(statuses) == 0 || hasStatus(statuses, u.Status) {
			out = append(out, u)
		}
	}
	return out, nil
}

func hasStatus(list []model.Status, s model.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// PendingCount returns the queued mutations over every kind. It is zero in
// online-only mode.
func (a *App) PendingCount(ctx context.Context) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	total := 0
	for _, lane := range a.Lanes() {
		if lane.Queue == nil {
			continue
		}
		n, err := lane.Queue.PendingCount(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Subscribe registers fn for queue changes of every kind.
func (a *App) Subscribe(fn func(queue.Event)) (unsubscribe func()) {
	var unsubs []func()
	for _, lane := range a.Lanes() {
		if lane.Queue != nil {
			unsubs = append(unsubs, lane.Queue.Subscribe(fn))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
