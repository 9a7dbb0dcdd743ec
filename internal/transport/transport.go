// Package transport is the capability the sync engine uses to reach the
// remote authority. The engine only sees the Transport interface; the HTTP
// client here is one implementation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// Transport delivers queued actions and downloads work units for one
// work-unit kind. Each Handle method must be idempotent on the server side:
// the engine redelivers an action whose acknowledgement was lost.
//
// Errors should be classified with syncerr: ServerRejected for payloads the
// server refuses, TransportFailure for everything retryable. Unclassified
// errors are treated as transport failures.
type Transport interface {
	model.ActionHandler

	// FetchWorkUnits returns the authoritative set of work units assigned
	// to identity.
	FetchWorkUnits(ctx context.Context, identity string) ([]model.WorkUnit, error)
}

// Send delivers a through t, dispatching on the action variant.
func Send(ctx context.Context, t Transport, a model.Action) error {
	return a.Dispatch(ctx, t)
}

// ClassifyStatus maps an HTTP status to the error taxonomy. 2xx is success.
// 408, 429, 5xx and auth failures are retryable; other 4xx mean the server
// refused the payload itself.
func ClassifyStatus(code int, msg string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code >= 500:
		return syncerr.TransportFailure(fmt.Sprintf("HTTP %d", code), errorText(msg))
	case code >= 400:
		return syncerr.ServerRejected(fmt.Sprintf("HTTP %d", code), errorText(msg))
	}
	return syncerr.TransportFailure(fmt.Sprintf("unexpected HTTP %d", code), errorText(msg))
}

// ClassifyError wraps a client-side failure (dial, timeout, cancelled
// context) as a TransportFailure unless it is already classified.
func ClassifyError(err error) error {
	if err == nil || syncerr.CodeOf(err) != "" {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return syncerr.TransportFailure("timeout", err)
	}
	return syncerr.TransportFailure("request failed", err)
}

func errorText(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
