package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/capture"
	"github.com/Adriangar333/Traceops-sub000/internal/geofence"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// GeofenceOutput is the output of the geofence command.
type GeofenceOutput struct {
	geofence.Verdict
	Tolerance float64 `json:"tolerance_meters"`
}

func (g GeofenceOutput) String() string {
	if g.WithinRange {
		return fmt.Sprintf("within range: %d m (tolerance %.0f m)", g.DistanceMeters, g.Tolerance)
	}
	return fmt.Sprintf("out of range: %d m (tolerance %.0f m)", g.DistanceMeters, g.Tolerance)
}

// NewGeofenceCommand creates the geofence command.
func NewGeofenceCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		from, to  string
		tolerance float64
		kindFlag  string
	)

	cmd := &cobra.Command{
		Use:   "geofence",
		Short: "Check a position against a target",
		Long: `Compute the great-circle distance between two points and whether it is
within tolerance. Without --tolerance the default for --kind is used.

Exit codes:
  0 - Within range
  1 - Out of range
  2 - Command error

Example:
  fieldsync geofence --from 4.6097,-74.0817 --to 4.6110,-74.0817`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := parseCoordinates(from)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --from", err)
			}
			target, err := parseCoordinates(to)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --to", err)
			}
			kind, err := parseKind(kindFlag)
			if err != nil {
				return err
			}
			if tolerance <= 0 {
				tolerance = capture.DefaultTolerance(kind)
			}

			v := geofence.Validate(current, target, tolerance)
			if err := rootOpts.formatter(cmd).Success(GeofenceOutput{Verdict: v, Tolerance: tolerance}); err != nil {
				return err
			}
			if !v.WithinRange {
				return NewExitError(ExitFailure, "position outside geofence")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "device position as lat,lng (required)")
	cmd.Flags().StringVar(&to, "to", "", "target position as lat,lng (required)")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "tolerance in meters")
	cmd.Flags().StringVar(&kindFlag, "kind", string(model.KindDelivery), "kind whose default tolerance applies")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// parseCoordinates parses "lat,lng".
func parseCoordinates(s string) (model.Coordinates, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return model.Coordinates{}, fmt.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("longitude: %w", err)
	}
	c := model.Coordinates{Lat: lat, Lng: lng}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return c, fmt.Errorf("coordinates out of range: %v", s)
	}
	return c, nil
}
