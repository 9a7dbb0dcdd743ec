package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

const evidenceColumns = `id, kind, work_unit_id, type, payload, signature, notes, reading,
	action_taken, lat, lng, captured_at, content_key, synced`

// InsertEvidence writes a new evidence row and returns its id. Evidence is
// never updated afterwards except for the synced flag.
func (tx *Tx) InsertEvidence(ctx context.Context, e model.Evidence) (int64, error) {
	if !e.Type.Valid() {
		return 0, fmt.Errorf("insert evidence: invalid type %q", e.Type)
	}
	if e.ContentKey == "" {
		return 0, fmt.Errorf("insert evidence: content key is required")
	}

	var lat, lng sql.NullFloat64
	if e.Location != nil {
		lat = sql.NullFloat64{Float64: e.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: e.Location.Lng, Valid: true}
	}

	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO evidence
		(kind, work_unit_id, type, payload, signature, notes, reading, action_taken,
		 lat, lng, captured_at, content_key, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`,
		string(e.Kind), e.WorkUnitID, string(e.Type), e.Payload, e.Signature, e.Notes,
		e.Reading, e.ActionTaken, lat, lng, e.CapturedAt.UTC().UnixMilli(), e.ContentKey,
	)
	if err != nil {
		return 0, fmt.Errorf("insert evidence: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert evidence: %w", err)
	}
	return id, nil
}

// GetEvidence returns one evidence row or ErrNotFound.
func (s *Store) GetEvidence(ctx context.Context, id int64) (model.Evidence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id)
	e, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Evidence{}, fmt.Errorf("evidence %d: %w", id, ErrNotFound)
	}
	return e, err
}

// UnsyncedEvidence returns evidence of kind not yet acknowledged by the
// server, oldest first.
func (s *Store) UnsyncedEvidence(ctx context.Context, kind model.Kind) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evidenceColumns+` FROM evidence
		WHERE kind = ? AND synced = 0
		ORDER BY id ASC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	out := []model.Evidence{}
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}

// CountUnsyncedEvidence returns how many evidence rows of kind await upload.
func (s *Store) CountUnsyncedEvidence(ctx context.Context, kind model.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence WHERE kind = ? AND synced = 0`,
		string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count evidence: %w", err)
	}
	return n, nil
}

func markEvidenceSynced(ctx context.Context, q querier, targetID string) error {
	id, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return fmt.Errorf("mark evidence synced: bad id %q: %w", targetID, err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE evidence SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark evidence synced: %w", err)
	}
	return nil
}

func scanEvidence(r rowScanner) (model.Evidence, error) {
	var (
		e               model.Evidence
		kind, typ       string
		lat, lng        sql.NullFloat64
		capturedAtMilli int64
		synced          int
	)
	err := r.Scan(&e.ID, &kind, &e.WorkUnitID, &typ, &e.Payload, &e.Signature, &e.Notes, &e.Reading,
		&e.ActionTaken, &lat, &lng, &capturedAtMilli, &e.ContentKey, &synced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan evidence: %w", err)
	}
	e.Kind = model.Kind(kind)
	e.Type = model.EvidenceType(typ)
	e.CapturedAt = time.UnixMilli(capturedAtMilli).UTC()
	e.Synced = synced != 0
	if lat.Valid && lng.Valid {
		e.Location = &model.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	return e, nil
}
