package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
	"github.com/Adriangar333/Traceops-sub000/internal/config"
	"github.com/Adriangar333/Traceops-sub000/internal/logging"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// env is an initialized app plus the settings it was built from.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	app      *app.App
	closeLog func() error
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DBPath != "" {
		cfg.DB.Path = o.DBPath
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the configured logger. One-shot commands keep stderr to
// warnings unless --verbose is set.
func (o *RootOptions) newLogger(cfg config.Config, oneShot bool) (*slog.Logger, func() error, error) {
	if oneShot && !o.Verbose {
		cfg.Log.Level = "warn"
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid log settings", err)
	}
	return logger, closeLog, nil
}

// openEnv loads config and initializes the app for a one-shot command.
func (o *RootOptions) openEnv(ctx context.Context) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := o.newLogger(cfg, true)
	if err != nil {
		return nil, err
	}
	return startEnv(ctx, cfg, logger, closeLog)
}

func startEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, closeLog func() error) (*env, error) {
	a := app.New(app.Options{Config: cfg, Logger: logger})
	if err := a.Initialize(ctx); err != nil {
		closeLog()
		return nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	return &env{cfg: cfg, logger: logger, app: a, closeLog: closeLog}, nil
}

func (e *env) Close() {
	if err := e.app.Close(); err != nil {
		e.logger.Error("error closing app", "error", err)
	}
	e.closeLog()
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseKind validates a --kind flag value.
func parseKind(s string) (model.Kind, error) {
	k, err := model.ParseKind(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	return k, nil
}

// classify maps app errors onto exit codes.
func classify(message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, app.ErrNoRemote):
		return WrapExitError(ExitCommandError, message, fmt.Errorf("%w (set remote.base_url)", err))
	case syncerr.IsOffline(err), syncerr.IsTransportFailure(err), syncerr.IsServerRejected(err):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}
