package domain

import (
	"sort"
	"time"
)

// Normalized forecast parameter names used by alert rules.
const (
	ParamTemperature   = "temperature"
	ParamDewPoint      = "dew_point"
	ParamWindSpeed     = "wind_speed"
	ParamWindGust      = "wind_gust_speed"
	ParamWindDirection = "wind_direction"
	ParamCloudCover    = "cloud_cover"
	ParamPressureMSL   = "pressure_msl"
	ParamPrecipitation = "precipitation"
	ParamSunshine      = "sunshine"
	ParamVisibility    = "visibility"
	ParamCondition     = "condition"
)

// Coordinate is a WGS-84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Station is one forecast point from a bulletin. Immutable after parse;
// discarded when the next bulletin supersedes it.
type Station struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
	Altitude   float64    `json:"altitude"`
	Parameters []string   `json:"parameters"` // sorted normalized parameter names present in the series
}

// Value is one forecast sample value. Valid is false for samples the
// bulletin marks as missing or that failed to parse.
type Value struct {
	Float float64
	Valid bool
}

// ForecastSeries holds one station's forecast: a shared strictly increasing
// timestamp axis and per-parameter value columns aligned to it.
type ForecastSeries struct {
	StationID  string
	Timestamps []time.Time
	Params     map[string][]Value
}

// Len returns the number of samples on the timestep axis.
func (s *ForecastSeries) Len() int { return len(s.Timestamps) }

// Column returns the value column for a parameter, or false if the
// bulletin carried no data for it at this station.
func (s *ForecastSeries) Column(param string) ([]Value, bool) {
	col, ok := s.Params[param]
	return col, ok
}

// ParameterNames returns the sorted parameter names present in the series.
func (s *ForecastSeries) ParameterNames() []string {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SkippedStation records a station excluded from a parsed bulletin.
type SkippedStation struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Bulletin is one parsed forecast snapshot: all stations with their series,
// plus parse bookkeeping. Stations are sorted by ascending ID so downstream
// processing is deterministic.
type Bulletin struct {
	Source   string    // issuer:product:issue-time, e.g. "DWD:MOSMIX_S:2026-08-25T09:00:00Z"
	IssuedAt time.Time // bulletin issue time (UTC)

	Stations []Station
	Series   map[string]*ForecastSeries

	SkippedStations []SkippedStation
	SkippedSamples  int
}

// StationByID returns the station and its series, or false when the
// bulletin does not contain the ID.
func (b *Bulletin) StationByID(id string) (Station, *ForecastSeries, bool) {
	i := sort.Search(len(b.Stations), func(i int) bool { return b.Stations[i].ID >= id })
	if i >= len(b.Stations) || b.Stations[i].ID != id {
		return Station{}, nil, false
	}
	return b.Stations[i], b.Series[id], true
}
