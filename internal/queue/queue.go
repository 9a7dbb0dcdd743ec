// Package queue is the durable, ordered, at-least-once mutation log for one
// work-unit kind, backed by the local store.
//
// Items are written in the same transaction as the record mutation they
// describe, drained oldest-first, deleted only on acknowledgement, and
// otherwise only ever have their attempt counters updated.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adriangar333/Traceops-sub000/internal/fanout"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// DefaultBatchSize caps a single drain.
const DefaultBatchSize = 50

// DefaultRejectBudget is how many server rejections park an item.
const DefaultRejectBudget = 3

// Queue is the sync queue for one work-unit kind.
type Queue struct {
	store        *store.Store
	kind         model.Kind
	batchSize    int
	rejectBudget int
	logger       *slog.Logger
	hub          *fanout.Hub[Event]
}

// Option configures a Queue.
type Option func(*Queue)

// WithBatchSize sets the maximum number of items returned by Drain.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithRejectBudget sets how many ServerRejected failures park an item.
// Zero disables parking: rejected items are retried forever.
func WithRejectBudget(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.rejectBudget = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates the queue for kind over s.
func New(s *store.Store, kind model.Kind, opts ...Option) *Queue {
	q := &Queue{
		store:        s,
		kind:         kind,
		batchSize:    DefaultBatchSize,
		rejectBudget: DefaultRejectBudget,
		logger:       slog.Default(),
		hub:          fanout.NewHub[Event](),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("kind", string(kind))
	return q
}

// Kind returns the work-unit kind this queue serves.
func (q *Queue) Kind() model.Kind { return q.kind }

// RejectBudget returns the configured rejection budget.
func (q *Queue) RejectBudget() int { return q.rejectBudget }

// Close stops event delivery to subscribers.
func (q *Queue) Close() { q.hub.Close() }

// Enqueue writes a for this queue's kind inside tx, which must be the
// transaction applying the record mutation the action describes. The
// payload is a frozen snapshot validated before it is written.
//
// Enqueue does not notify subscribers; use Mutate for that.
func (q *Queue) Enqueue(ctx context.Context, tx *store.Tx, a model.Action) (int64, error) {
	if a == nil {
		return 0, syncerr.InvalidPayload("enqueue nil action", nil)
	}
	payload, err := model.EncodeAction(a)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", a.Kind(), err)
	}
	family, target := a.Target()
	id, err := tx.InsertQueueItem(ctx, store.QueueRow{
		Kind:         q.kind,
		Action:       a.Kind(),
		TargetFamily: family,
		TargetID:     target,
		Payload:      payload,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", a.Kind(), err)
	}
	return id, nil
}

// EnqueueFunc appends an action inside the transaction opened by Mutate.
type EnqueueFunc func(a model.Action) (int64, error)

// Mutate runs fn in one store transaction. Actions passed to enqueue are
// written in that transaction, so either the record changes and their queue
// items all commit or none do. Subscribers receive EventQueued for each item
// after the commit.
func (q *Queue) Mutate(ctx context.Context, fn func(tx *store.Tx, enqueue EnqueueFunc) error) error {
	var queued []int64
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		queued = queued[:0]
		return fn(tx, func(a model.Action) (int64, error) {
			id, err := q.Enqueue(ctx, tx, a)
			if err == nil {
				queued = append(queued, id)
			}
			return id, err
		})
	})
	if err != nil {
		return err
	}

	for _, id := range queued {
		q.logger.Debug("queued sync item", "item_id", id)
		q.publish(ctx, EventQueued, id, "")
	}
	return nil
}

// Drain returns up to max items oldest-first (the configured batch size if
// max is not positive). Parked items are left out. A row whose payload
// fails its schema check is recorded as a rejection and not returned.
func (q *Queue) Drain(ctx context.Context, max int) ([]model.QueueItem, error) {
	if max <= 0 || max > q.batchSize {
		max = q.batchSize
	}
	rows, err := q.store.QueueItems(ctx, q.kind, store.QueueFilter{
		Limit:        max,
		RejectBudget: q.rejectBudget,
		Parked:       store.ParkedExclude,
	})
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	items := make([]model.QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := toItem(row)
		if err != nil {
			q.logger.Error("undecodable sync item", "item_id", row.ID, "action", string(row.Action), "error", err)
			if _, ferr := q.store.RecordQueueFailure(ctx, row.ID, model.FailureRejected, err.Error()); ferr != nil {
				return nil, fmt.Errorf("drain: %w", ferr)
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Acknowledge deletes an item after the server confirmed it and marks the
// record it targets as synced, in one transaction.
func (q *Queue) Acknowledge(ctx context.Context, id int64) error {
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.AcknowledgeQueueItem(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	q.logger.Debug("acknowledged sync item", "item_id", id)
	q.publish(ctx, EventAcknowledged, id, "")
	return nil
}

// Failure describes the state of an item after RecordFailure.
type Failure struct {
	Attempts int
	Kind     model.FailureKind
	Parked   bool
}

// RecordFailure increments the item's attempts and stores cause. A
// ServerRejected cause is classified as a rejection; anything else as a
// transport failure. The item is never deleted or reordered.
func (q *Queue) RecordFailure(ctx context.Context, id int64, cause error) (Failure, error) {
	kind := model.FailureTransport
	if syncerr.IsServerRejected(cause) || syncerr.IsInvalidPayload(cause) {
		kind = model.FailureRejected
	}
	text := "unknown error"
	if cause != nil {
		text = cause.Error()
	}

	row, err := q.store.RecordQueueFailure(ctx, id, kind, text)
	if err != nil {
		return Failure{}, fmt.Errorf("record failure: %w", err)
	}

	f := Failure{Attempts: row.Attempts, Kind: kind}
	f.Parked = model.QueueItem{Attempts: row.Attempts, FailureKind: kind}.Parked(q.rejectBudget)
	q.publish(ctx, EventFailed, id, text)
	return f, nil
}

// PendingCount returns every item still queued, parked ones included.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.store.CountQueueItems(ctx, q.kind, store.QueueFilter{})
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// List returns queued items oldest-first, parked ones included. Items whose
// payload cannot be decoded are returned with a nil Action.
func (q *Queue) List(ctx context.Context, limit int) ([]model.QueueItem, error) {
	rows, err := q.store.QueueItems(ctx, q.kind, store.QueueFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return toItems(rows), nil
}

// Stuck returns the parked items that need manual resolution.
func (q *Queue) Stuck(ctx context.Context) ([]model.QueueItem, error) {
	if q.rejectBudget <= 0 {
		return []model.QueueItem{}, nil
	}
	rows, err := q.store.QueueItems(ctx, q.kind, store.QueueFilter{
		RejectBudget: q.rejectBudget,
		Parked:       store.ParkedOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("stuck: %w", err)
	}
	return toItems(rows), nil
}

// ParkedUnits returns the work units that have a parked item. Later items
// for those units must wait until the parked one is requeued and sent.
func (q *Queue) ParkedUnits(ctx context.Context) (map[string]bool, error) {
	units := make(map[string]bool)
	if q.rejectBudget <= 0 {
		return units, nil
	}
	rows, err := q.store.QueueItems(ctx, q.kind, store.QueueFilter{
		RejectBudget: q.rejectBudget,
		Parked:       store.ParkedOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("parked units: %w", err)
	}
	for _, row := range rows {
		if item, err := toItem(row); err == nil {
			units[item.Action.WorkUnit()] = true
			continue
		}
		// Undecodable payload: fall back to the row's target.
		switch row.TargetFamily {
		case model.FamilyWorkUnits:
			units[row.TargetID] = true
		case model.FamilyEvidence:
			id, err := strconv.ParseInt(row.TargetID, 10, 64)
			if err != nil {
				continue
			}
			ev, err := q.store.GetEvidence(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("parked units: %w", err)
			}
			units[ev.WorkUnitID] = true
		}
	}
	return units, nil
}

// ErrWrongKind is returned by Requeue for an item owned by another queue.
var ErrWrongKind = errors.New("item belongs to another work-unit kind")

// Requeue resets a parked item's counters so the next cycle retries it.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	row, err := q.store.GetQueueItem(ctx, id)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if row.Kind != q.kind {
		return fmt.Errorf("requeue %d: %w", id, ErrWrongKind)
	}
	if err := q.store.ResetQueueItem(ctx, id); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	q.logger.Info("requeued sync item", "item_id", id, "attempts", row.Attempts)
	q.publish(ctx, EventQueued, id, "")
	return nil
}

// CycleComplete tells subscribers a reconciliation cycle finished.
func (q *Queue) CycleComplete(ctx context.Context) {
	q.publish(ctx, EventCycleComplete, 0, "")
}

func toItems(rows []store.QueueRow) []model.QueueItem {
	items := make([]model.QueueItem, 0, len(rows))
	for _, row := range rows {
		item, err := toItem(row)
		if err != nil {
			item.Action = nil
		}
		items = append(items, item)
	}
	return items
}

func toItem(row store.QueueRow) (model.QueueItem, error) {
	item := model.QueueItem{
		ID:          row.ID,
		Kind:        row.Kind,
		CreatedAt:   row.CreatedAt,
		Attempts:    row.Attempts,
		LastError:   row.LastError,
		FailureKind: row.FailureKind,
	}
	a, err := model.DecodeAction(row.Action, row.Payload)
	if err != nil {
		return item, err
	}
	item.Action = a
	return item, nil
}
