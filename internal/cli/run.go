package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/config"
	"github.com/Adriangar333/Traceops-sub000/internal/metrics"
	"github.com/Adriangar333/Traceops-sub000/internal/queue"
	"github.com/Adriangar333/Traceops-sub000/internal/tracing"
)

// Version is reported to the tracing backend.
var Version = "dev"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent",
		Long: `Run the long-lived sync agent: watch connectivity, reconcile every kind
when the remote becomes reachable, after captures and every sync.interval,
and serve Prometheus metrics on metrics.addr.

Stops on SIGINT or SIGTERM.

Example:
  fieldsync run --config /etc/fieldsync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(rootOpts, cmd)
		},
	}
}

func runAgent(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := opts.newLogger(cfg, false)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		closeLog()
		return WrapExitError(ExitCommandError, "failed to initialize tracing", err)
	}
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("error flushing traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	e, err := startEnv(ctx, cfg, logger, closeLog)
	if err != nil {
		return err
	}
	defer e.Close()

	unsubscribe := e.app.Subscribe(func(ev queue.Event) {
		logger.Debug("queue event", "type", string(ev.Type), "kind", string(ev.Kind), "item_id", ev.ItemID, "pending", ev.Pending)
	})
	defer unsubscribe()

	stopMetrics, err := serveMetrics(ctx, cfg.Metrics, reg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start metrics server", err)
	}
	defer stopMetrics()

	logger.Info("agent starting", "db", cfg.DB.Path, "mode", string(e.app.Mode()), "identity", e.app.Identity())
	fmt.Fprintln(cmd.OutOrStdout(), "Sync agent started. Press Ctrl-C to stop.")

	if err := e.app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "agent error", err)
	}

	logger.Info("agent stopped gracefully")
	return nil
}

// serveMetrics exposes reg on cfg.Addr until ctx is done. An empty address
// disables the endpoint.
func serveMetrics(ctx context.Context, cfg config.Metrics, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	if cfg.Addr == "" {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Give a bind failure a moment to surface.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}
	logger.Info("metrics endpoint listening", "addr", cfg.Addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error stopping metrics endpoint", "error", err)
		}
	}, nil
}
