package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

const workUnitColumns = `kind, id, reference, client_name, address, lat, lng, amount_due,
	priority, status, assigned_at, synced, updated_at`

// GetWorkUnit returns one cached work unit or ErrNotFound.
func (s *Store) GetWorkUnit(ctx context.Context, kind model.Kind, id string) (model.WorkUnit, error) {
	return getWorkUnit(ctx, s.db, kind, id)
}

// ListWorkUnits returns cached work units of kind, optionally restricted to
// the given statuses, in triage order: priority ascending, then amount due
// descending. Ties fall back to id so results are deterministic.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListWorkUnits(ctx context.Context, kind model.Kind, statuses ...model.Status) ([]model.WorkUnit, error) {
	query := `SELECT ` + workUnitColumns + ` FROM work_units WHERE kind = ?`
	args := []any{string(kind)}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY priority ASC, amount_due DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work units: %w", err)
	}
	defer rows.Close()

	units := []model.WorkUnit{}
	for rows.Next() {
		w, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work units: %w", err)
	}
	return units, nil
}

// UpsertWorkUnits applies a downloaded work-unit set in one transaction.
// See Tx.UpsertWorkUnit for the merge rule.
func (s *Store) UpsertWorkUnits(ctx context.Context, units []model.WorkUnit) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, w := range units {
			if err := tx.UpsertWorkUnit(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetWorkUnit returns one work unit inside the transaction.
func (tx *Tx) GetWorkUnit(ctx context.Context, kind model.Kind, id string) (model.WorkUnit, error) {
	return getWorkUnit(ctx, tx.tx, kind, id)
}

// UpsertWorkUnit inserts a server-owned work unit or refreshes its
// descriptive fields. A row with local changes not yet acknowledged
// (synced=0) keeps its local status, so a download never reverts a capture
// that is still queued.
func (tx *Tx) UpsertWorkUnit(ctx context.Context, w model.WorkUnit) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("upsert work unit: %w", err)
	}

	var lat, lng sql.NullFloat64
	if w.Location != nil {
		lat = sql.NullFloat64{Float64: w.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: w.Location.Lng, Valid: true}
	}
	updated := tx.now()
	if !w.UpdatedAt.IsZero() {
		updated = w.UpdatedAt.UTC().UnixMilli()
	}

	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO work_units (`+workUnitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			reference   = excluded.reference,
			client_name = excluded.client_name,
			address     = excluded.address,
			lat         = excluded.lat,
			lng         = excluded.lng,
			amount_due  = excluded.amount_due,
			priority    = excluded.priority,
			assigned_at = excluded.assigned_at,
			status      = CASE WHEN work_units.synced = 0 THEN work_units.status ELSE excluded.status END,
			updated_at  = CASE WHEN work_units.synced = 0 THEN work_units.updated_at ELSE excluded.updated_at END
	`,
		string(w.Kind), w.ID, w.Reference, w.ClientName, w.Address, lat, lng, w.AmountDue,
		w.Priority, string(w.Status), w.AssignedAt, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert work unit %s: %w", w.ID, err)
	}
	return nil
}

// SetWorkUnitStatus records a local status change and clears synced.
// The caller must enqueue the matching UpdateStatus in the same transaction.
func (tx *Tx) SetWorkUnitStatus(ctx context.Context, kind model.Kind, id string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("set work unit status: invalid status %q", status)
	}
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE work_units SET status = ?, synced = 0, updated_at = ?
		WHERE kind = ? AND id = ?
	`, string(status), tx.now(), string(kind), id)
	if err != nil {
		return fmt.Errorf("set work unit status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set work unit status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set work unit status %s/%s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// markWorkUnitSynced sets synced=1 once no queue item for the unit remains.
func markWorkUnitSynced(ctx context.Context, q querier, kind model.Kind, id string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE work_units SET synced = 1
		WHERE kind = ? AND id = ?
		AND NOT EXISTS (
			SELECT 1 FROM sync_queue
			WHERE kind = ? AND target_family = 'work_units' AND target_id = ?
		)
	`, string(kind), id, string(kind), id)
	if err != nil {
		return fmt.Errorf("mark work unit synced: %w", err)
	}
	return nil
}

func getWorkUnit(ctx context.Context, q querier, kind model.Kind, id string) (model.WorkUnit, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workUnitColumns+` FROM work_units WHERE kind = ? AND id = ?`,
		string(kind), id)
	w, err := scanWorkUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkUnit{}, fmt.Errorf("work unit %s/%s: %w", kind, id, ErrNotFound)
	}
	return w, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkUnit(r rowScanner) (model.WorkUnit, error) {
	var (
		w              model.WorkUnit
		kind, status   string
		lat, lng       sql.NullFloat64
		synced         int
		updatedAtMilli int64
	)
	err := r.Scan(&kind, &w.ID, &w.Reference, &w.ClientName, &w.Address, &lat, &lng, &w.AmountDue,
		&w.Priority, &status, &w.AssignedAt, &synced, &updatedAtMilli)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return w, err
		}
		return w, fmt.Errorf("scan work unit: %w", err)
	}
	w.Kind = model.Kind(kind)
	w.Status = model.Status(status)
	w.Synced = synced != 0
	w.UpdatedAt = time.UnixMilli(updatedAtMilli).UTC()
	if lat.Valid && lng.Valid {
		w.Location = &model.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	return w, nil
}
