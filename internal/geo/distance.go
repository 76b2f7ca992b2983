// Package geo provides great-circle distance, a grid-bucketed nearest
// station index, and monitored-location matching.
package geo

import (
	"math"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

const (
	earthRadiusKm = 6371.0
	// kmPerDegreeLat is the meridian arc length of one degree of latitude.
	kmPerDegreeLat = 111.195
)

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers. Haversine rather than planar distance: stations span the whole
// MOSMIX extent, from the tropics to Svalbard.
func HaversineKm(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
