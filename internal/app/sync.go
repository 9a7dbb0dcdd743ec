package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/engine"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// SyncNow runs one cycle for every kind with a remote and returns their
// reports. It waits for the first connectivity reading, and returns
// syncerr.Offline without touching the cache when the remote is
// unreachable. A kind whose cycle is already running is skipped.
func (a *App) SyncNow(ctx context.Context) ([]engine.Report, error) {
	return a.sync(ctx, model.Kinds()...)
}

// SyncKind is SyncNow restricted to one kind.
func (a *App) SyncKind(ctx context.Context, kind model.Kind) (engine.Report, error) {
	reports, err := a.sync(ctx, kind)
	if len(reports) == 0 {
		if err == nil {
			err = syncerr.CycleAlreadyRunning
		}
		return engine.Report{Kind: kind}, err
	}
	return reports[0], err
}

func (a *App) sync(ctx context.Context, kinds ...model.Kind) ([]engine.Report, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	select {
	case <-a.monitor.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !a.online() {
		return nil, syncerr.Offline
	}

	var (
		reports []engine.Report
		errs    []error
		remotes int
	)
	for _, kind := range kinds {
		lane, err := a.Lane(kind)
		if err != nil {
			return nil, err
		}
		if lane.Transport == nil {
			continue
		}
		remotes++

		if lane.Engine == nil {
			if err := a.refreshCache(ctx, lane); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			}
			continue
		}
		report, err := lane.Engine.RunCycle(ctx, a.Identity())
		if syncerr.IsCycleAlreadyRunning(err) {
			a.logger.Debug("cycle already running", "kind", string(kind))
			continue
		}
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if remotes == 0 {
		return nil, ErrNoRemote
	}
	return reports, errors.Join(errs...)
}

// refreshCache downloads work units into memory in online-only mode.
func (a *App) refreshCache(ctx context.Context, lane *Lane) error {
	identity := a.Identity()
	if identity == "" {
		return nil
	}
	units, err := lane.Transport.FetchWorkUnits(ctx, identity)
	if err != nil {
		return err
	}
	for i := range units {
		units[i].Kind = lane.Kind
	}
	slices.SortStableFunc(units, func(x, y model.WorkUnit) int {
		if c := cmp.Compare(x.Priority, y.Priority); c != 0 {
			return c
		}
		return cmp.Compare(y.AmountDue, x.AmountDue)
	})
	a.mu.Lock()
	a.cache[lane.Kind] = units
	a.mu.Unlock()
	return nil
}

// LaneStatus is the sync state of one kind.
type LaneStatus struct {
	Kind            model.Kind `json:"kind"`
	Remote          bool       `json:"remote"`
	Syncing         bool       `json:"syncing"`
	LastSync        time.Time  `json:"last_sync,omitzero"`
	Pending         int        `json:"pending"`
	PendingEvidence int        `json:"pending_evidence"`
	Stuck           int        `json:"stuck"`
}

// Status is the snapshot a UI shows as badges.
type Status struct {
	Mode     Mode         `json:"mode"`
	Online   bool         `json:"online"`
	Identity string       `json:"identity,omitempty"`
	Lanes    []LaneStatus `json:"lanes"`
}

// Pending sums the pending count over every lane.
func (s Status) Pending() int {
	n := 0
	for _, l := range s.Lanes {
		n += l.Pending
	}
	return n
}

// Status reports mode, connectivity and per-kind queue state.
func (a *App) Status(ctx context.Context) (Status, error) {
	if err := a.ready(); err != nil {
		return Status{}, err
	}
	st := Status{Mode: a.Mode(), Online: a.online(), Identity: a.Identity()}
	s := a.Store()
	for _, lane := range a.Lanes() {
		ls := LaneStatus{Kind: lane.Kind, Remote: lane.Transport != nil}
		if lane.Engine != nil {
			ls.Syncing = lane.Engine.Running()
		}
		if lane.Queue != nil && s != nil {
			var err error
			if ls.Pending, err = lane.Queue.PendingCount(ctx); err != nil {
				return Status{}, err
			}
			stuck, err := lane.Queue.Stuck(ctx)
			if err != nil {
				return Status{}, err
			}
			ls.Stuck = len(stuck)
			if ls.PendingEvidence, err = s.CountUnsyncedEvidence(ctx, lane.Kind); err != nil {
				return Status{}, err
			}
			if t, ok, err := s.GetTime(ctx, store.LastSyncKey(lane.Kind)); err != nil {
				return Status{}, err
			} else if ok {
				ls.LastSync = t
			}
		}
		st.Lanes = append(st.Lanes, ls)
	}
	return st, nil
}
