// Package geo computes great-circle distances and travel times between stops.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000

// ErrInvalidCoordinates is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Stop is a located stop as seen by the distance service.
type Stop struct {
	ID   string  `json:"id"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zone string  `json:"zone,omitempty"`
}

// Validate checks that the stop coordinates are finite and within range.
func (s Stop) Validate() error {
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lon) ||
		s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("%w: stop %q at (%v, %v)", ErrInvalidCoordinates, s.ID, s.Lat, s.Lon)
	}
	return nil
}

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Distance returns the great-circle distance between two stops in meters.
func Distance(a, b Stop) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Offset returns the point reached by moving north and east by the given
// number of meters. Used to lay out synthetic stop sets.
func Offset(lat, lon, northMeters, eastMeters float64) (float64, float64) {
	dLat := northMeters / earthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (earthRadiusMeters * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat + dLat, lon + dLon
}
