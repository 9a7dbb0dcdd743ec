package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/engine"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// SyncReport is the printable form of a cycle report.
type SyncReport struct {
	CycleID         string     `json:"cycle_id"`
	Kind            model.Kind `json:"kind"`
	Attempted       int        `json:"attempted"`
	Uploaded        int        `json:"uploaded"`
	Failed          int        `json:"failed"`
	Parked          int        `json:"parked"`
	Deferred        int        `json:"deferred"`
	Downloaded      int        `json:"downloaded"`
	DownloadSkipped bool       `json:"download_skipped,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
	Errors          []string   `json:"errors,omitempty"`
}

func newSyncReport(r engine.Report) SyncReport {
	out := SyncReport{
		CycleID:         r.CycleID,
		Kind:            r.Kind,
		Attempted:       r.Attempted,
		Uploaded:        r.Uploaded,
		Failed:          r.Failed,
		Parked:          r.Parked,
		Deferred:        r.Deferred,
		Downloaded:      r.Downloaded,
		DownloadSkipped: r.DownloadSkipped,
		DurationMS:      r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	for _, e := range r.Errors {
		out.Errors = append(out.Errors, fmt.Sprintf("item %d (%s): %v", e.ItemID, e.Action, e.Err))
	}
	return out
}

// SyncOutput lists the reports of one sync command.
type SyncOutput struct {
	Reports []SyncReport `json:"reports"`
}

func (s SyncOutput) String() string {
	if len(s.Reports) == 0 {
		return "Nothing to sync."
	}
	var b strings.Builder
	for _, r := range s.Reports {
		fmt.Fprintf(&b, "%s: uploaded %d, failed %d, parked %d, deferred %d, downloaded %d",
			r.Kind, r.Uploaded, r.Failed, r.Parked, r.Deferred, r.Downloaded)
		if r.DownloadSkipped {
			b.WriteString(" (not logged in, download skipped)")
		}
		b.WriteString("\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation cycle now",
		Long: `Upload queued changes oldest first, then download the work units assigned
to the logged-in identity. Without --kind every kind with a remote is synced.

Exit codes:
  0 - Cycle completed (individual items may still have failed)
  1 - Remote unreachable or the download failed
  2 - Command error (no remote configured, etc.)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := rootOpts.openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var (
				reports []engine.Report
				syncErr error
			)
			if kindFlag != "" {
				kind, err := parseKind(kindFlag)
				if err != nil {
					return err
				}
				r, err := e.app.SyncKind(ctx, kind)
				if r.CycleID != "" {
					reports = append(reports, r)
				}
				syncErr = err
			} else {
				reports, syncErr = e.app.SyncNow(ctx)
			}
			if syncErr != nil && len(reports) == 0 {
				return classify("sync failed", syncErr)
			}

			out := SyncOutput{Reports: make([]SyncReport, 0, len(reports))}
			for _, r := range reports {
				out.Reports = append(out.Reports, newSyncReport(r))
			}
			if err := rootOpts.formatter(cmd).Success(out); err != nil {
				return err
			}
			return classify("sync incomplete", syncErr)
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "sync only this kind (delivery|service_order)")
	return cmd
}
