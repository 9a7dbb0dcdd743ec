// Package geofence decides whether a position is close enough to a target to
// record a completion there. It is pure arithmetic with no device access.
package geofence

import (
	"math"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Verdict is the result of a geofence check.
type Verdict struct {
	WithinRange    bool `json:"within_range"`
	DistanceMeters int  `json:"distance_meters"`
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b model.Coordinates) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push h just past 1 near antipodes.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Validate checks current against target. The distance is rounded to whole
// meters before it is compared, so the verdict always agrees with the
// reported distance; a point exactly on the boundary is within range.
func Validate(current, target model.Coordinates, toleranceMeters float64) Verdict {
	d := int(math.Round(Distance(current, target)))
	return Verdict{
		WithinRange:    float64(d) <= toleranceMeters,
		DistanceMeters: d,
	}
}
