package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
	"github.com/Adriangar333/Traceops-sub000/internal/capture"
	"github.com/Adriangar333/Traceops-sub000/internal/config"
	"github.com/Adriangar333/Traceops-sub000/internal/connectivity"
	"github.com/Adriangar333/Traceops-sub000/internal/engine"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/testutil"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Epoch is the fixed clock every scenario starts at.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// stepInterval advances the clock between steps so timestamps stay ordered.
const stepInterval = time.Second

// defaultTarget is used for captures on units without a location.
var defaultTarget = model.Coordinates{Lat: 4.6097, Lng: -74.0817}

// Harness executes one scenario against a real app over an on-disk store,
// with a scripted remote, manual connectivity and a fixed clock.
type Harness struct {
	scenario *Scenario
	cfg      config.Config
	remote   *testutil.FakeTransport
	clock    *testutil.Clock
	ids      *engine.FixedGenerator
	logger   *slog.Logger
	online   bool
	source   *connectivity.ManualSource
	app      *app.App
}

// Run executes scenario in a fresh temporary directory.
//
// Execution flow:
//  1. Open the app over a new database and log in
//  2. Execute each step, recording its outcome
//  3. Evaluate assertions against the calls and the final state
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "fieldsync-scenario-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	return RunIn(ctx, scenario, dir)
}

// RunIn executes scenario with its database under dir.
func RunIn(ctx context.Context, scenario *Scenario, dir string) (*Result, error) {
	cfg := config.Default()
	cfg.DB.Path = filepath.Join(dir, "fieldsync.db")
	cfg.Remote.BaseURL = ""
	cfg.Remote.Token = ""
	cfg.Network.Debounce = 0
	cfg.Sync.Interval = 0
	if scenario.Tolerance > 0 {
		cfg.Geofence.DeliveryToleranceM = scenario.Tolerance
		cfg.Geofence.ServiceOrderToleranceM = scenario.Tolerance
	}
	if scenario.RejectBudget > 0 {
		cfg.Sync.RejectBudget = scenario.RejectBudget
	}

	h := &Harness{
		scenario: scenario,
		cfg:      cfg,
		remote:   testutil.NewFakeTransport(),
		clock:    testutil.NewClock(Epoch),
		ids:      engine.NewFixedGenerator(cycleIDs(len(scenario.Steps))...),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		online:   scenario.Online,
	}
	h.remote.SetWorkUnits(scenario.workUnits()...)

	if err := h.start(ctx); err != nil {
		return nil, err
	}
	defer func() { h.app.Close() }()

	if _, err := h.app.Login(ctx, scenario.Identity, ""); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(stepInterval)
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result.Calls = traceCalls(h.remote.Calls())
	lane, err := h.app.Lane(scenario.Kind)
	if err != nil {
		return nil, err
	}
	actx := &AssertionContext{Ctx: ctx, Store: h.app.Store(), Lane: lane}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func cycleIDs(n int) []string {
	ids := make([]string, n+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("cycle-%d", i+1)
	}
	return ids
}

func (s *Scenario) workUnits() []model.WorkUnit {
	units := make([]model.WorkUnit, 0, len(s.WorkUnits))
	for _, f := range s.WorkUnits {
		u := model.WorkUnit{
			Kind:      s.Kind,
			ID:        f.ID,
			Reference: f.Reference,
			AmountDue: f.AmountDue,
			Priority:  f.Priority,
			Status:    model.Status(f.Status),
			UpdatedAt: Epoch,
		}
		if u.Status == "" {
			u.Status = model.StatusPending
		}
		if f.Lat != nil {
			u.Location = &model.Coordinates{Lat: *f.Lat, Lng: *f.Lng}
		}
		units = append(units, u)
	}
	return units
}

// start opens (or reopens) the app over the scenario database.
func (h *Harness) start(ctx context.Context) error {
	h.source = connectivity.NewManualSource(h.online)
	h.app = app.New(app.Options{
		Config:     h.cfg,
		Logger:     h.logger,
		Transports: map[model.Kind]transport.Transport{h.scenario.Kind: h.remote},
		Source:     h.source,
		Clock:      h.clock.Now,
		IDs:        h.ids,
	})
	if err := h.app.Initialize(ctx); err != nil {
		return err
	}
	if h.app.Mode() != app.ModeOffline {
		return fmt.Errorf("store unavailable at %s", h.cfg.DB.Path)
	}
	return h.awaitOnline(ctx, h.online)
}

func (h *Harness) awaitOnline(ctx context.Context, online bool) error {
	m := h.app.Monitor()
	select {
	case <-m.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.Online() != online {
		if time.Now().After(deadline) {
			return fmt.Errorf("connectivity did not settle to online=%t", online)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) error {
	kind := h.scenario.Kind
	switch {
	case step.Sync != nil:
		report, err := h.app.SyncKind(ctx, kind)
		outcome := summarize(report, err)
		result.AddStep("sync", outcome)
		if err != nil && !syncerr.IsOffline(err) && syncerr.CodeOf(err) == "" {
			return err
		}
		if e := step.Sync.Expect; e != nil {
			for _, msg := range checkSync(e, report, err) {
				result.AddError(fmt.Sprintf("steps[%d].sync: %s", i, msg))
			}
		}

	case step.SetOnline != nil:
		h.online = *step.SetOnline
		h.source.Set(h.online)
		if err := h.awaitOnline(ctx, h.online); err != nil {
			return err
		}
		result.AddStep(fmt.Sprintf("set_online %t", h.online), onlineWord(h.online))

	case step.Capture != nil:
		c := step.Capture
		req, err := h.captureRequest(ctx, c)
		if err != nil {
			return err
		}
		res, err := h.app.Capture(ctx, kind, req)
		var outcome string
		switch {
		case err != nil:
			outcome = "error: " + err.Error()
		case res.Accepted:
			outcome = fmt.Sprintf("accepted items=%d", len(res.QueueItems))
		default:
			outcome = "rejected: " + string(res.Reason)
		}
		result.AddStep("capture "+c.Unit, outcome)
		if c.Expect != nil {
			if err != nil {
				result.AddError(fmt.Sprintf("steps[%d].capture: unexpected error: %v", i, err))
			} else if res.Accepted != c.Expect.Accepted || (c.Expect.Reason != "" && string(res.Reason) != c.Expect.Reason) {
				result.AddError(fmt.Sprintf("steps[%d].capture: expected accepted=%t reason=%q, got accepted=%t reason=%q",
					i, c.Expect.Accepted, c.Expect.Reason, res.Accepted, res.Reason))
			}
		}

	case step.SetStatus != nil:
		s := step.SetStatus
		err := h.app.SetStatus(ctx, kind, s.Unit, model.Status(s.Status), s.Reason)
		outcome := "queued"
		if err != nil {
			outcome = "error: " + err.Error()
		}
		result.AddStep(fmt.Sprintf("set_status %s %s", s.Unit, s.Status), outcome)

	case step.Fail != nil:
		f := step.Fail
		times := max(f.Times, 1)
		errs := make([]error, times)
		for j := range errs {
			if f.Error == "rejected" {
				errs[j] = syncerr.ServerRejected("HTTP 422", nil)
			} else {
				errs[j] = syncerr.TransportFailure("connection reset", nil)
			}
		}
		h.remote.Fail(f.Op, f.Unit, errs...)
		result.AddStep(strings.TrimSpace(fmt.Sprintf("fail %s %s", f.Op, f.Unit)), fmt.Sprintf("%s x%d", f.Error, times))

	case step.Requeue != nil:
		lane, err := h.app.Lane(kind)
		if err != nil {
			return err
		}
		stuck, err := lane.Queue.Stuck(ctx)
		if err != nil {
			return err
		}
		for _, item := range stuck {
			if err := lane.Queue.Requeue(ctx, item.ID); err != nil {
				return err
			}
		}
		result.AddStep("requeue", fmt.Sprintf("released %d", len(stuck)))

	case step.Restart:
		if err := h.app.Close(); err != nil {
			return err
		}
		if err := h.start(ctx); err != nil {
			return err
		}
		n, err := h.app.PendingCount(ctx)
		if err != nil {
			return err
		}
		result.AddStep("restart", fmt.Sprintf("pending=%d", n))
	}
	return nil
}

func (h *Harness) captureRequest(ctx context.Context, c *CaptureStep) (capture.Request, error) {
	req := capture.Request{
		WorkUnitID:     c.Unit,
		Type:           model.EvidenceType(c.Type),
		Notes:          c.Notes,
		ActionTaken:    c.Action,
		Reason:         c.Reason,
		CapturedAt:     h.clock.Now(),
		Override:       c.Override,
		OverrideReason: c.OverrideReason,
	}
	if req.Type == "" {
		req.Type = model.EvidencePhoto
	}
	if req.Type == model.EvidencePhoto {
		req.Payload = []byte("jpeg:" + c.Unit)
	}
	if req.Type == model.EvidenceSignature {
		req.Signature = []byte("sig:" + c.Unit)
	}
	if c.NoLocation {
		return req, nil
	}

	target := defaultTarget
	units, err := h.app.WorkUnits(ctx, h.scenario.Kind)
	if err != nil {
		return req, err
	}
	for _, u := range units {
		if u.ID == c.Unit && u.Location != nil {
			target = *u.Location
		}
	}
	req.Location = metersNorth(target, c.OffsetMeters)
	return req, nil
}

// metersNorth moves c north by m meters along its meridian.
func metersNorth(c model.Coordinates, m float64) *model.Coordinates {
	const metersPerDegree = 6371000.0 * math.Pi / 180
	return &model.Coordinates{Lat: c.Lat + m/metersPerDegree, Lng: c.Lng}
}

func onlineWord(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func summarize(r engine.Report, err error) string {
	if code := syncerr.CodeOf(err); code != "" && r.CycleID == "" {
		return "error: " + string(code)
	}
	s := fmt.Sprintf("uploaded=%d failed=%d parked=%d deferred=%d downloaded=%d",
		r.Uploaded, r.Failed, r.Parked, r.Deferred, r.Downloaded)
	if err != nil {
		s += " error: " + string(syncerr.CodeOf(err))
	}
	return s
}

func checkSync(e *SyncExpect, r engine.Report, err error) []string {
	var msgs []string
	if e.Error != "" {
		if got := string(syncerr.CodeOf(err)); got != e.Error {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %q", e.Error, got))
		}
		return msgs
	}
	if err != nil {
		return append(msgs, fmt.Sprintf("unexpected error: %v", err))
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			msgs = append(msgs, fmt.Sprintf("expected %s=%d, got %d", name, *want, got))
		}
	}
	check("uploaded", e.Uploaded, r.Uploaded)
	check("failed", e.Failed, r.Failed)
	check("parked", e.Parked, r.Parked)
	check("deferred", e.Deferred, r.Deferred)
	check("downloaded", e.Downloaded, r.Downloaded)
	return msgs
}

// traceCalls drops content keys from the recorded calls: they hash the
// capture payload and are checked by model tests, not traces.
func traceCalls(calls []testutil.Call) []testutil.Call {
	out := make([]testutil.Call, len(calls))
	for i, c := range calls {
		c.ContentKey = ""
		out[i] = c
	}
	return out
}
