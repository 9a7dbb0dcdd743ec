package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// App state keys.
const (
	StateIdentity = "identity"
	StateToken    = "token"
)

// LastSyncKey is the app state key holding the last completed cycle time for
// a work-unit kind.
func LastSyncKey(kind model.Kind) string {
	return "last_sync:" + string(kind)
}

// GetState returns the value stored under key or ErrNotFound.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("app state %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get app state %q: %w", key, err)
	}
	return v, nil
}

// SetState creates or overwrites the value stored under key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	return setState(ctx, s.db, key, value, s.nowMillis())
}

// SetState writes an app state value inside the transaction.
func (tx *Tx) SetState(ctx context.Context, key, value string) error {
	return setState(ctx, tx.tx, key, value, tx.now())
}

// GetTime reads a state value written by SetTime. ok is false if unset.
func (s *Store) GetTime(ctx context.Context, key string) (t time.Time, ok bool, err error) {
	v, err := s.GetState(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("app state %q: %w", key, err)
	}
	return t, true, nil
}

// SetTime stores t under key in RFC 3339 form.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetState(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

func setState(ctx context.Context, q querier, key, value string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("set app state %q: %w", key, err)
	}
	return nil
}

// Wipe deletes every row of all four record families in one transaction.
// Used on logout; the schema itself is kept.
func (s *Store) Wipe(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, table := range []string{"sync_queue", "evidence", "work_units", "app_state"} {
			if _, err := tx.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
}
