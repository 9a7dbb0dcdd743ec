package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/store"
	"github.com/Adriangar333/Traceops-sub000/internal/transport"
)

// Login records the active identity and session token. An empty identity is
// taken from the token's subject. Logging in as a different identity
// requires a Logout first so one worker's queue is never sent as another's.
func (a *App) Login(ctx context.Context, identity, token string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		if token == "" {
			return "", fmt.Errorf("login: identity or token is required")
		}
		id, err := transport.IdentityFromToken(token)
		if err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
		identity = id
	}

	if current := a.Identity(); current != "" && current != identity {
		return "", fmt.Errorf("login as %q: %w (%q)", identity, ErrOtherIdentity, current)
	}

	if s := a.Store(); s != nil {
		err := s.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.SetState(ctx, store.StateIdentity, identity); err != nil {
				return err
			}
			if token == "" {
				return nil
			}
			return tx.SetState(ctx, store.StateToken, token)
		})
		if err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
	}

	a.mu.Lock()
	a.identity = identity
	if token != "" {
		a.token = token
	}
	a.mu.Unlock()

	a.logger.Info("logged in", "identity", identity)
	for _, lane := range a.Lanes() {
		if lane.Engine != nil && a.online() {
			lane.Engine.Trigger()
		}
	}
	return identity, nil
}

// Logout wipes every local record (work units, evidence, the queue and app
// state) and forgets the session. Unsent mutations are lost; callers that
// care check PendingCount first.
func (a *App) Logout(ctx context.Context) error {
	if err := a.ready(); err != nil {
		return err
	}
	if s := a.Store(); s != nil {
		if err := s.Wipe(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}

	a.mu.Lock()
	prev := a.identity
	a.identity = ""
	a.token = a.opts.Config.Remote.Token
	a.cache = make(map[model.Kind][]model.WorkUnit)
	a.mu.Unlock()

	a.logger.Info("logged out", "identity", prev)
	return nil
}
