package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/capture"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Kind           string
	Unit           string
	Lat            float64
	Lng            float64
	Photo          string // file path
	Signature      string // file path
	Notes          string
	Reading        string
	Action         string
	Reason         string
	Status         string
	Override       bool
	OverrideReason string
}

// CaptureOutput is the output of an accepted capture.
type CaptureOutput struct {
	WorkUnitID     string       `json:"work_unit_id"`
	EvidenceID     int64        `json:"evidence_id,omitempty"`
	Status         model.Status `json:"status,omitempty"`
	DistanceMeters *int         `json:"distance_meters,omitempty"`
	Queued         int          `json:"queued"`
}

func (c CaptureOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Captured %s", c.WorkUnitID)
	if c.EvidenceID != 0 {
		fmt.Fprintf(&b, " (evidence %d)", c.EvidenceID)
	}
	if c.Status != "" {
		fmt.Fprintf(&b, ", status %s", c.Status)
	}
	if c.DistanceMeters != nil {
		fmt.Fprintf(&b, ", %d m from target", *c.DistanceMeters)
	}
	if c.Queued > 0 {
		fmt.Fprintf(&b, ", %d queued", c.Queued)
	}
	return b.String()
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record evidence or a status change for a work unit",
		Long: `Record evidence for a cached work unit. The device position (--lat/--lng)
is checked against the unit's location; a capture outside the tolerance is
rejected unless --override is given with a reason.

With --status and no evidence flags only the status change is recorded.

Exit codes:
  0 - Capture recorded
  1 - Capture rejected by the geofence
  2 - Command error (unknown unit, invalid flags, etc.)

Examples:
  fieldsync capture --unit D-1 --lat 4.6097 --lng -74.0817 --photo door.jpg --action completed
  fieldsync capture --kind service_order --unit OS-9 --lat 4.61 --lng -74.08 --photo meter.jpg --reading 0412 --action cut
  fieldsync capture --unit D-1 --status failed --reason "customer absent"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", string(model.KindDelivery), "work-unit kind (delivery|service_order)")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "work unit ID (required)")
	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "device latitude")
	cmd.Flags().Float64Var(&opts.Lng, "lng", 0, "device longitude")
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "photo file")
	cmd.Flags().StringVar(&opts.Signature, "signature", "", "signature image file")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text notes")
	cmd.Flags().StringVar(&opts.Reading, "reading", "", "meter reading")
	cmd.Flags().StringVar(&opts.Action, "action", "", "closure action (completed, suspended, cut, reconnected, ...)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason for a failed outcome")
	cmd.Flags().StringVar(&opts.Status, "status", "", "explicit status (pending|in_progress|completed|failed)")
	cmd.Flags().BoolVar(&opts.Override, "override", false, "record even if outside the geofence")
	cmd.Flags().StringVar(&opts.OverrideReason, "override-reason", "", "why the geofence was overridden")
	_ = cmd.MarkFlagRequired("unit")
	cmd.MarkFlagsRequiredTogether("lat", "lng")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	kind, err := parseKind(opts.Kind)
	if err != nil {
		return err
	}
	if opts.Override && strings.TrimSpace(opts.OverrideReason) == "" {
		return NewExitError(ExitCommandError, "--override requires --override-reason")
	}

	req, statusOnly, err := opts.request(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	e, err := opts.openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	out := opts.formatter(cmd)
	if statusOnly {
		if err := e.app.SetStatus(ctx, kind, opts.Unit, req.Status, req.Reason); err != nil {
			return classify("set status failed", err)
		}
		return out.Success(CaptureOutput{WorkUnitID: opts.Unit, Status: req.Status})
	}

	res, err := e.app.Capture(ctx, kind, req)
	if err != nil {
		return classify("capture failed", err)
	}
	if !res.Accepted {
		return WrapExitError(ExitFailure, "capture rejected", &syncerr.Error{Code: res.Reason, Message: res.Message})
	}

	result := CaptureOutput{
		WorkUnitID: opts.Unit,
		EvidenceID: res.EvidenceID,
		Status:     res.Status,
		Queued:     len(res.QueueItems),
	}
	if res.Verdict != nil {
		d := res.Verdict.DistanceMeters
		result.DistanceMeters = &d
	}
	return out.Success(result)
}

// request builds the capture request from flags. statusOnly is true when
// the flags carry a status change and no evidence.
func (opts *CaptureOptions) request(cmd *cobra.Command) (capture.Request, bool, error) {
	req := capture.Request{
		WorkUnitID:     opts.Unit,
		Notes:          opts.Notes,
		Reading:        opts.Reading,
		ActionTaken:    opts.Action,
		Status:         model.Status(opts.Status),
		Reason:         opts.Reason,
		Override:       opts.Override,
		OverrideReason: opts.OverrideReason,
	}
	if cmd.Flags().Changed("lat") {
		req.Location = &model.Coordinates{Lat: opts.Lat, Lng: opts.Lng}
	}

	var err error
	if opts.Photo != "" {
		if req.Payload, err = os.ReadFile(opts.Photo); err != nil {
			return req, false, WrapExitError(ExitCommandError, "failed to read photo", err)
		}
	}
	if opts.Signature != "" {
		if req.Signature, err = os.ReadFile(opts.Signature); err != nil {
			return req, false, WrapExitError(ExitCommandError, "failed to read signature", err)
		}
	}

	switch {
	case len(req.Payload) > 0:
		req.Type = model.EvidencePhoto
	case len(req.Signature) > 0:
		req.Type = model.EvidenceSignature
	default:
		req.Type = model.EvidenceForm
	}

	evidence := len(req.Payload) > 0 || len(req.Signature) > 0 || req.Notes != "" || req.Reading != "" || req.ActionTaken != ""
	if !evidence {
		if req.Status == "" {
			return req, false, NewExitError(ExitCommandError, "nothing to capture: give evidence flags or --status")
		}
		if !req.Status.Valid() {
			return req, false, NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q", req.Status))
		}
		return req, true, nil
	}
	return req, false, nil
}
