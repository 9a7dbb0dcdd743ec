package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Adriangar333/Traceops-sub000/internal/metrics"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
	"github.com/Adriangar333/Traceops-sub000/internal/tracing"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Engine reconciles one work-unit kind with the remote authority.
//
// Thread-safety model:
//   - RunCycle(): safe from any goroutine; concurrent calls are no-ops
//   - Trigger(): safe from any goroutine, never blocks
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	store     *store.Store
	queue     *queue.Queue
	transport transport.Transport
	ids       IDGenerator
	now       func() time.Time
	logger    *slog.Logger
	batchSize int

	running atomic.Bool
	trigger chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the cycle ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithClock sets the time source for cycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBatchSize caps the items uploaded per cycle. Default: the queue's
// own batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates an engine draining q through t. The store must be the one q
// was built over.
func New(s *store.Store, q *queue.Queue, t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		queue:     q,
		transport: t,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		logger:    slog.Default(),
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("kind", string(q.Kind()))
	return e
}

// Kind returns the work-unit kind this engine reconciles.
func (e *Engine) Kind() model.Kind { return e.queue.Kind() }

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// ItemError records one failed delivery inside a cycle.
type ItemError struct {
	ItemID int64
	Action model.ActionKind
	Err    error
}

// Report summarizes a reconciliation cycle.
type Report struct {
	CycleID string
	Kind    model.Kind

	Attempted int // items sent to the transport
	Uploaded  int // items acknowledged
	Failed    int // items whose attempt was recorded as a failure
	Parked    int // failed items that reached the rejection budget
	Deferred  int // items held back behind an earlier failure for the same work unit

	Downloaded      int
	DownloadSkipped bool // no identity to download for

	Errors     []ItemError
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunCycle performs one reconciliation pass: upload, download, then record
// the completion time in app state.
//
// Per-item transport and rejection failures are recorded on the queue and
// reported in Report.Errors; they do not fail the cycle. A download failure
// leaves cached work units untouched and is returned as the cycle error.
// Storage failures abort the cycle.
//
// If another cycle is running, RunCycle returns syncerr.CycleAlreadyRunning
// and does nothing else.
func (e *Engine) RunCycle(ctx context.Context, identity string) (Report, error) {
	kind := string(e.queue.Kind())
	if !e.running.CompareAndSwap(false, true) {
		metrics.RecordCycle(kind, "skipped", 0)
		return Report{}, syncerr.CycleAlreadyRunning
	}
	defer e.running.Store(false)

	report := Report{
		CycleID:   e.ids.Generate(),
		Kind:      e.queue.Kind(),
		StartedAt: e.now(),
	}
	logger := e.logger.With("cycle_id", report.CycleID)

	ctx, span := tracing.StartSpan(ctx, "sync.cycle",
		attribute.String("kind", kind),
		attribute.String("cycle_id", report.CycleID),
	)
	defer span.End()

	logger.Debug("cycle started")

	result := "ok"
	finish := func(err error) (Report, error) {
		report.FinishedAt = e.now()
		metrics.RecordCycle(kind, result, report.FinishedAt.Sub(report.StartedAt))
		span.SetAttributes(
			attribute.Int("uploaded", report.Uploaded),
			attribute.Int("failed", report.Failed),
			attribute.Int("downloaded", report.Downloaded),
		)
		if err != nil {
			tracing.SetSpanError(ctx, err)
		}
		e.queue.CycleComplete(ctx)
		return report, err
	}

	if err := e.upload(ctx, logger, &report); err != nil {
		result = "error"
		logger.Error("upload phase aborted", "error", err)
		return finish(fmt.Errorf("upload: %w", err))
	}
	tracing.AddSpanEvent(ctx, "upload.done")

	if err := e.download(ctx, logger, identity, &report); err != nil {
		result = "download_failed"
		if syncerr.IsStorageUnavailable(err) {
			result = "error"
		}
		logger.Warn("download phase failed, keeping cached work units", "error", err)
		return finish(fmt.Errorf("download: %w", err))
	}

	finishedAt := e.now()
	if err := e.store.SetTime(ctx, store.LastSyncKey(e.queue.Kind()), finishedAt); err != nil {
		result = "error"
		return finish(fmt.Errorf("record last sync: %w", err))
	}

	logger.Info("cycle complete",
		"attempted", report.Attempted,
		"uploaded", report.Uploaded,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"downloaded", report.Downloaded,
	)
	return finish(nil)
}

func (e *Engine) upload(ctx context.Context, logger *slog.Logger, report *Report) error {
	items, err := e.queue.Drain(ctx, e.batchSize)
	if err != nil {
		return err
	}

	kind := string(e.queue.Kind())
	// Units with a parked item stay held until it is requeued.
	held, err := e.queue.ParkedUnits(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		unit := item.Action.WorkUnit()
		if held[unit] {
			report.Deferred++
			logger.Debug("deferring sync item behind earlier failure", "item_id", item.ID, "work_unit_id", unit)
			continue
		}

		report.Attempted++
		sendErr := e.send(ctx, item)
		if sendErr == nil {
			if err := e.queue.Acknowledge(ctx, item.ID); err != nil {
				return err
			}
			report.Uploaded++
			metrics.RecordUpload(kind, string(item.Action.Kind()), "ok")
			continue
		}

		held[unit] = true
		f, err := e.queue.RecordFailure(ctx, item.ID, sendErr)
		if err != nil {
			return err
		}
		report.Failed++
		if f.Parked {
			report.Parked++
		}
		report.Errors = append(report.Errors, ItemError{ItemID: item.ID, Action: item.Action.Kind(), Err: sendErr})
		metrics.RecordUpload(kind, string(item.Action.Kind()), string(f.Kind))

		attrs := []any{
			"item_id", item.ID,
			"action", string(item.Action.Kind()),
			"work_unit_id", unit,
			"attempts", f.Attempts,
			"error", sendErr,
		}
		if f.Parked {
			logger.Error("sync item parked after repeated rejection", attrs...)
		} else {
			logger.Warn("sync item failed", attrs...)
		}
	}
	return nil
}

func (e *Engine) send(ctx context.Context, item model.QueueItem) error {
	ctx, span := tracing.StartSpan(ctx, "sync.upload",
		attribute.Int64("item_id", item.ID),
		attribute.String("action", string(item.Action.Kind())),
		attribute.String("work_unit_id", item.Action.WorkUnit()),
	)
	defer span.End()

	err := transport.ClassifyError(transport.Send(ctx, e.transport, item.Action))
	if err != nil {
		tracing.SetSpanError(ctx, err)
	}
	return err
}

func (e *Engine) download(ctx context.Context, logger *slog.Logger, identity string, report *Report) error {
	if identity == "" {
		report.DownloadSkipped = true
		logger.Info("no active identity, skipping download")
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "sync.download", attribute.String("kind", string(e.queue.Kind())))
	defer span.End()

	units, err := e.transport.FetchWorkUnits(ctx, identity)
	if err != nil {
		err = transport.ClassifyError(err)
		tracing.SetSpanError(ctx, err)
		return err
	}
	for i := range units {
		units[i].Kind = e.queue.Kind()
	}
	if err := e.store.UpsertWorkUnits(ctx, units); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	report.Downloaded = len(units)
	return nil
}
