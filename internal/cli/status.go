package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
)

// StatusOutput wraps app.Status for text rendering.
type StatusOutput struct {
	app.Status
}

func (s StatusOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", s.Mode)
	fmt.Fprintf(&b, "Network: %s\n", onlineWord(s.Online))
	identity := s.Identity
	if identity == "" {
		identity = "(not logged in)"
	}
	fmt.Fprintf(&b, "Identity: %s\n", identity)
	for _, l := range s.Lanes {
		last := "never"
		if !l.LastSync.IsZero() {
			last = l.LastSync.Local().Format(time.DateTime)
		}
		remote := ""
		if !l.Remote {
			remote = " (no remote)"
		}
		fmt.Fprintf(&b, "%s%s: pending=%d evidence=%d stuck=%d last_sync=%s",
			l.Kind, remote, l.Pending, l.PendingEvidence, l.Stuck, last)
		if l.Syncing {
			b.WriteString(" syncing")
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func onlineWord(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes, stuck items and last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := rootOpts.openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.app.Status(ctx)
			if err != nil {
				return classify("status failed", err)
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(st)
			}
			return rootOpts.formatter(cmd).Success(StatusOutput{st})
		},
	}
}
