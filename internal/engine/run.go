package engine

import (
	"context"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/connectivity"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// LoopConfig drives Run.
type LoopConfig struct {
	// Interval starts a cycle periodically while Online reports true.
	// Zero disables periodic cycles.
	Interval time.Duration

	// Online gates periodic cycles. Nil means always online.
	Online func() bool

	// Identity returns the identity to download for. Nil or an empty
	// identity skips the download phase.
	Identity func(ctx context.Context) (string, error)
}

// Trigger asks Run to start a cycle. Requests made while one is pending
// coalesce into a single cycle.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// TriggerOn starts a cycle whenever m reports the remote reachable,
// including an initial online state. It returns the unsubscribe function.
func (e *Engine) TriggerOn(m *connectivity.Monitor) func() {
	return m.Subscribe(func(t connectivity.Transition) {
		if t.BecameReachable() {
			e.logger.Debug("connectivity restored, triggering cycle", "initial", t.Initial)
			e.Trigger()
		}
	})
}

// Run executes triggered and periodic cycles until ctx is done. Cycles run
// detached from ctx so shutdown never interrupts one halfway.
func (e *Engine) Run(ctx context.Context, cfg LoopConfig) error {
	var tick <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.trigger:
		case <-tick:
			if cfg.Online != nil && !cfg.Online() {
				continue
			}
		}
		e.runScheduled(ctx, cfg)
	}
}

func (e *Engine) runScheduled(ctx context.Context, cfg LoopConfig) {
	identity := ""
	if cfg.Identity != nil {
		id, err := cfg.Identity(ctx)
		if err != nil {
			e.logger.Error("read identity", "error", err)
			return
		}
		identity = id
	}

	_, err := e.RunCycle(context.WithoutCancel(ctx), identity)
	switch {
	case err == nil:
	case syncerr.IsCycleAlreadyRunning(err):
		e.logger.Debug("cycle already running")
	default:
		e.logger.Warn("cycle failed", "error", err)
	}
}
