package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// QueueRow is a sync_queue row with its payload still serialized.
type QueueRow struct {
	ID           int64
	Kind         model.Kind
	Action       model.ActionKind
	TargetFamily model.Family
	TargetID     string
	Payload      []byte
	CreatedAt    time.Time
	Attempts     int
	LastError    string
	FailureKind  model.FailureKind
}

// Parked selects queue rows by their parked state.
type Parked int

const (
	// ParkedAny returns every row.
	ParkedAny Parked = iota
	// ParkedExclude skips rows rejected RejectBudget or more times.
	ParkedExclude
	// ParkedOnly returns only rows rejected RejectBudget or more times.
	ParkedOnly
)

// QueueFilter restricts a queue read.
type QueueFilter struct {
	// Limit caps the number of rows returned; 0 means no cap.
	Limit int

	// RejectBudget is the number of server rejections after which a row is
	// parked. Zero disables parking.
	RejectBudget int

	Parked Parked
}

const queueColumns = `id, kind, action, target_family, target_id, payload, created_at,
	attempts, last_error, failure_kind`

// InsertQueueItem appends a queue row and returns its id. Ids increase
// strictly, so id order is enqueue order.
func (tx *Tx) InsertQueueItem(ctx context.Context, row QueueRow) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO sync_queue (kind, action, target_family, target_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(row.Kind), string(row.Action), string(row.TargetFamily), row.TargetID, string(row.Payload), tx.now())
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	return id, nil
}

// AcknowledgeQueueItem deletes a queue row and marks the record it targets
// as synced. A work unit only becomes synced once no other queue row for it
// remains. Returns ErrNotFound if the row is already gone.
func (tx *Tx) AcknowledgeQueueItem(ctx context.Context, id int64) (QueueRow, error) {
	row, err := getQueueRow(ctx, tx.tx, id)
	if err != nil {
		return QueueRow{}, err
	}

	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return QueueRow{}, fmt.Errorf("delete queue item %d: %w", id, err)
	}

	switch row.TargetFamily {
	case model.FamilyWorkUnits:
		err = markWorkUnitSynced(ctx, tx.tx, row.Kind, row.TargetID)
	case model.FamilyEvidence:
		err = markEvidenceSynced(ctx, tx.tx, row.TargetID)
	default:
		err = fmt.Errorf("unknown target family %q", row.TargetFamily)
	}
	if err != nil {
		return QueueRow{}, fmt.Errorf("acknowledge queue item %d: %w", id, err)
	}
	return row, nil
}

// RecordQueueFailure increments attempts and stores the error text and its
// classification. It never deletes or reorders the row.
func (s *Store) RecordQueueFailure(ctx context.Context, id int64, kind model.FailureKind, errText string) (QueueRow, error) {
	var row QueueRow
	err := s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, failure_kind = ?
			WHERE id = ?
		`, errText, string(kind), id)
		if err != nil {
			return fmt.Errorf("record queue failure %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("record queue failure %d: %w", id, err)
		} else if n == 0 {
			return fmt.Errorf("record queue failure %d: %w", id, ErrNotFound)
		}
		row, err = getQueueRow(ctx, tx.tx, id)
		return err
	})
	return row, err
}

// ResetQueueItem clears attempts, last error and failure kind so a parked
// row is picked up by the next drain.
func (s *Store) ResetQueueItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET attempts = 0, last_error = '', failure_kind = ''
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("reset queue item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset queue item %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("reset queue item %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetQueueItem returns one queue row or ErrNotFound.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (QueueRow, error) {
	return getQueueRow(ctx, s.db, id)
}

// QueueItems returns queue rows of kind oldest-first, restricted by filter.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueueItems(ctx context.Context, kind model.Kind, filter QueueFilter) ([]QueueRow, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE kind = ?`
	args := []any{string(kind)}
	query, args = applyParkedFilter(query, args, filter)
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	out := []QueueRow{}
	for rows.Next() {
		r, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

// CountQueueItems counts queue rows of kind, restricted by filter. Limit is
// ignored.
func (s *Store) CountQueueItems(ctx context.Context, kind model.Kind, filter QueueFilter) (int, error) {
	query := `SELECT COUNT(*) FROM sync_queue WHERE kind = ?`
	args := []any{string(kind)}
	query, args = applyParkedFilter(query, args, filter)

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

func applyParkedFilter(query string, args []any, filter QueueFilter) (string, []any) {
	if filter.RejectBudget <= 0 {
		if filter.Parked == ParkedOnly {
			query += ` AND 0`
		}
		return query, args
	}
	switch filter.Parked {
	case ParkedExclude:
		query += ` AND NOT (failure_kind = 'rejected' AND attempts >= ?)`
		args = append(args, filter.RejectBudget)
	case ParkedOnly:
		query += ` AND failure_kind = 'rejected' AND attempts >= ?`
		args = append(args, filter.RejectBudget)
	}
	return query, args
}

func getQueueRow(ctx context.Context, q querier, id int64) (QueueRow, error) {
	row := q.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	r, err := scanQueueRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRow{}, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	return r, err
}

func scanQueueRow(r rowScanner) (QueueRow, error) {
	var (
		q                                    QueueRow
		kind, action, family, payload, fkind string
		createdAtMilli                       int64
	)
	err := r.Scan(&q.ID, &kind, &action, &family, &q.TargetID, &payload, &createdAtMilli,
		&q.Attempts, &q.LastError, &fkind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return q, err
		}
		return q, fmt.Errorf("scan queue item: %w", err)
	}
	q.Kind = model.Kind(kind)
	q.Action = model.ActionKind(action)
	q.TargetFamily = model.Family(family)
	q.Payload = []byte(payload)
	q.CreatedAt = time.UnixMilli(createdAtMilli).UTC()
	q.FailureKind = model.FailureKind(fkind)
	return q, nil
}
