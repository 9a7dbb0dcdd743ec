package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
)

// InitResult is the output of the init command.
type InitResult struct {
	Database string   `json:"database"`
	Mode     app.Mode `json:"mode"`
}

func (r InitResult) String() string {
	return fmt.Sprintf("Local database ready at %s", r.Database)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the local database",
		Long: `Create the local database if it does not exist and apply any pending
schema migrations. Running init on an up-to-date database is a no-op.

Example:
  fieldsync init --db ./fieldsync.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(commandContext(cmd))
			if err != nil {
				return err
			}
			defer e.Close()

			if e.app.Mode() != app.ModeOffline {
				return NewExitError(ExitCommandError, fmt.Sprintf("local database unavailable at %s", e.cfg.DB.Path))
			}
			return rootOpts.formatter(cmd).Success(InitResult{Database: e.cfg.DB.Path, Mode: e.app.Mode()})
		},
	}
}
