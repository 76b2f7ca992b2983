package geo

import (
	"math"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

const (
	// cellSizeDeg is the grid cell edge in degrees (~55 km of latitude).
	// Radius queries touch a handful of cells instead of all stations.
	cellSizeDeg = 0.5

	// linearThreshold is the station count below which a straight scan is
	// cheaper than building and probing the grid.
	linearThreshold = 32

	// tieToleranceKm treats distances within 1 m as equal; ties break by
	// ascending station ID for deterministic matching.
	tieToleranceKm = 1e-3
)

var lonCells = int(math.Round(360 / cellSizeDeg))

type cellKey struct {
	lat, lon int
}

// Index is an immutable nearest-neighbor structure over one bulletin's
// stations. Built once per run; safe for concurrent queries.
type Index struct {
	stations []domain.Station
	cells    map[cellKey][]int // station indexes per grid cell
}

// NewIndex builds the index. Stations with identical IDs are assumed
// already deduplicated by the parser.
func NewIndex(stations []domain.Station) *Index {
	idx := &Index{stations: stations}
	if len(stations) < linearThreshold {
		return idx
	}
	idx.cells = make(map[cellKey][]int, len(stations))
	for i, s := range stations {
		k := keyFor(s.Coordinate)
		idx.cells[k] = append(idx.cells[k], i)
	}
	return idx
}

// Len returns the number of indexed stations.
func (idx *Index) Len() int { return len(idx.stations) }

// Nearest returns the closest station within maxKm great-circle distance,
// its distance, and whether one was found. Equidistant candidates (within
// float tolerance) resolve to the lowest station ID.
func (idx *Index) Nearest(c domain.Coordinate, maxKm float64) (domain.Station, float64, bool) {
	if maxKm <= 0 {
		return domain.Station{}, 0, false
	}
	if idx.cells == nil {
		return idx.scan(c, maxKm, allIndexes(len(idx.stations)))
	}

	latSpan := int(math.Ceil(maxKm/kmPerDegreeLat/cellSizeDeg)) + 1
	center := keyFor(c)

	var candidates []int
	for dLat := -latSpan; dLat <= latSpan; dLat++ {
		latCell := center.lat + dLat
		lonSpan := lonSpanFor(latCell, maxKm)
		for dLon := -lonSpan; dLon <= lonSpan; dLon++ {
			k := cellKey{lat: latCell, lon: wrapLon(center.lon + dLon)}
			candidates = append(candidates, idx.cells[k]...)
		}
	}
	return idx.scan(c, maxKm, candidates)
}

func (idx *Index) scan(c domain.Coordinate, maxKm float64, candidates []int) (domain.Station, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for _, i := range candidates {
		d := HaversineKm(c, idx.stations[i].Coordinate)
		if d > maxKm {
			continue
		}
		switch {
		case d < bestDist-tieToleranceKm:
			best, bestDist = i, d
		case d <= bestDist+tieToleranceKm && best >= 0 && idx.stations[i].ID < idx.stations[best].ID:
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return domain.Station{}, 0, false
	}
	return idx.stations[best], bestDist, true
}

// lonSpanFor returns how many longitude cells maxKm covers at a latitude
// row. Near the poles a degree of longitude shrinks toward zero, so the
// span is clamped to the full wrap.
func lonSpanFor(latCell int, maxKm float64) int {
	// Use the row edge closest to the equator for a conservative bound.
	lat := math.Abs(float64(latCell)) * cellSizeDeg
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.05 {
		return lonCells / 2
	}
	span := int(math.Ceil(maxKm/(kmPerDegreeLat*cosLat)/cellSizeDeg)) + 1
	if span > lonCells/2 {
		return lonCells / 2
	}
	return span
}

func keyFor(c domain.Coordinate) cellKey {
	return cellKey{
		lat: int(math.Floor(c.Lat / cellSizeDeg)),
		lon: wrapLon(int(math.Floor(c.Lon / cellSizeDeg))),
	}
}

func wrapLon(cell int) int {
	cell %= lonCells
	if cell < 0 {
		cell += lonCells
	}
	return cell
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
