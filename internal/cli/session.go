package cli

import (
	"github.com/spf13/cobra"
)

// LoginResult is the output of the login command.
type LoginResult struct {
	Identity string `json:"identity"`
}

func (r LoginResult) String() string { return "Logged in as " + r.Identity }

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var identity, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Record the active identity",
		Long: `Record the identity whose work units are downloaded. The identity comes
from --identity or, when omitted, from the subject of --token. The token is
kept locally and sent with every remote call.

Logging in as a different identity requires a logout first, which discards
all local data.

Examples:
  fieldsync login --identity driver-17
  fieldsync login --token "$FIELDSYNC_TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(commandContext(cmd))
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := e.app.Login(commandContext(cmd), identity, token)
			if err != nil {
				return WrapExitError(ExitCommandError, "login failed", err)
			}
			return rootOpts.formatter(cmd).Success(LoginResult{Identity: id})
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "identity to log in as")
	cmd.Flags().StringVar(&token, "token", "", "session token (identity is read from its subject)")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Wipe all local data",
		Long: `Delete every cached work unit, captured evidence, queued change and the
stored session. Queued changes that were never uploaded are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(commandContext(cmd))
			if err != nil {
				return err
			}
			defer e.Close()

			pending, err := e.app.PendingCount(commandContext(cmd))
			if err == nil && pending > 0 {
				rootOpts.formatter(cmd).VerboseLog("discarding %d queued changes", pending)
			}
			if err := e.app.Logout(commandContext(cmd)); err != nil {
				return WrapExitError(ExitCommandError, "logout failed", err)
			}
			return rootOpts.formatter(cmd).Success("Local data wiped")
		},
	}
}
