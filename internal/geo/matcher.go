package geo

import (
	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

// Match pairs a monitored location with its nearest eligible station.
type Match struct {
	Location   domain.MonitoredLocation
	Station    domain.Station
	DistanceKm float64
}

// Matcher resolves monitored locations against one bulletin's station
// index. Matches are recomputed every run: the station set can change
// between bulletin publications, so caching across runs would be wrong.
type Matcher struct {
	index    *Index
	radiusKm float64
}

// NewMatcher creates a Matcher with the configured maximum matching radius.
func NewMatcher(index *Index, radiusKm float64) *Matcher {
	return &Matcher{index: index, radiusKm: radiusKm}
}

// Match returns the nearest station within the radius. ok=false means the
// location is unmatched this run — reported by the caller, never an error.
func (m *Matcher) Match(loc domain.MonitoredLocation) (Match, bool) {
	station, dist, ok := m.index.Nearest(loc.Coordinate, m.radiusKm)
	if !ok {
		return Match{}, false
	}
	return Match{Location: loc, Station: station, DistanceKm: dist}, true
}
