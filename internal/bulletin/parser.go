// Package bulletin fetches and parses DWD MOSMIX forecast bundles.
//
// A bundle is a KMZ (ZIP with a single KML entry) or raw KML document with
// three structural parts: a product definition (issuer, product ID, issue
// time), a shared ForecastTimeSteps axis, and one Placemark per station
// carrying per-parameter value arrays aligned to the axis. The parser walks
// the document as a token stream so a full ~40 MB bundle never has to be
// held as a DOM.
package bulletin

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

// Run-fatal parse errors. Anything else degrades to a skipped station or a
// missing sample.
var (
	ErrMalformedBulletin = errors.New("malformed bulletin")
	ErrUnsupportedSchema = errors.New("unsupported bulletin schema")
)

// element maps a MOSMIX element code to its normalized parameter name and
// unit conversion. The closed mapping keeps alert rules on typed, unit-stable
// series; codes outside it pass through under their raw code.
type element struct {
	name    string
	convert func(float64) float64
}

var elements = map[string]element{
	"TTT":   {domain.ParamTemperature, kelvinToCelsius},
	"Td":    {domain.ParamDewPoint, kelvinToCelsius},
	"FF":    {domain.ParamWindSpeed, identity},
	"FX1":   {domain.ParamWindGust, identity},
	"DD":    {domain.ParamWindDirection, identity},
	"N":     {domain.ParamCloudCover, identity},
	"PPPP":  {domain.ParamPressureMSL, identity},
	"RR1c":  {domain.ParamPrecipitation, identity},
	"SunD1": {domain.ParamSunshine, identity},
	"VV":    {domain.ParamVisibility, identity},
	"ww":    {domain.ParamCondition, identity},
}

func identity(v float64) float64        { return v }
func kelvinToCelsius(v float64) float64 { return v - 273.15 }

// zipMagic is the local-file-header signature of a ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Parse decodes raw KMZ or KML bulletin bytes into a domain.Bulletin.
//
// A station without coordinates or with value arrays that do not match the
// timestep axis is excluded and recorded in SkippedStations. A single
// malformed value inside an otherwise valid array becomes a missing sample
// and increments SkippedSamples. Duplicate station IDs keep the first
// occurrence. Returns ErrMalformedBulletin for undecodable input and
// ErrUnsupportedSchema when the timestep axis or all placemarks are absent.
func Parse(data []byte, logger *slog.Logger) (*domain.Bulletin, error) {
	kml, err := unwrapKMZ(data)
	if err != nil {
		return nil, err
	}

	p := &parser{
		logger:  logger,
		decoder: xml.NewDecoder(bytes.NewReader(kml)),
		series:  make(map[string]*domain.ForecastSeries),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.finish()
}

// unwrapKMZ returns the KML payload, extracting the first ZIP entry when the
// input is a KMZ archive.
func unwrapKMZ(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return data, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading kmz archive: %v", ErrMalformedBulletin, err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: empty kmz archive", ErrMalformedBulletin)
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening kmz entry: %v", ErrMalformedBulletin, err)
	}
	defer f.Close()
	kml, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: reading kmz entry: %v", ErrMalformedBulletin, err)
	}
	return kml, nil
}

type parser struct {
	logger  *slog.Logger
	decoder *xml.Decoder

	issuer     string
	productID  string
	issuedAt   time.Time
	timestamps []time.Time

	stations       []domain.Station
	series         map[string]*domain.ForecastSeries
	skipped        []domain.SkippedStation
	skippedSamples int
}

func (p *parser) run() error {
	for {
		tok, err := p.decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedBulletin, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Issuer":
			p.issuer, err = p.text(start)
		case "ProductID":
			p.productID, err = p.text(start)
		case "IssueTime":
			err = p.parseIssueTime(start)
		case "ForecastTimeSteps":
			err = p.parseTimeSteps(start)
		case "Placemark":
			err = p.parsePlacemark(start)
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) finish() (*domain.Bulletin, error) {
	if len(p.timestamps) == 0 {
		return nil, fmt.Errorf("%w: no forecast timestep axis", ErrUnsupportedSchema)
	}
	if len(p.stations) == 0 {
		return nil, fmt.Errorf("%w: no station placemarks with forecast data", ErrUnsupportedSchema)
	}

	sort.Slice(p.stations, func(i, j int) bool { return p.stations[i].ID < p.stations[j].ID })

	source := strings.TrimRight(strings.Join([]string{p.issuer, p.productID, p.issuedAt.UTC().Format(time.RFC3339)}, ":"), ":")
	return &domain.Bulletin{
		Source:          source,
		IssuedAt:        p.issuedAt,
		Stations:        p.stations,
		Series:          p.series,
		SkippedStations: p.skipped,
		SkippedSamples:  p.skippedSamples,
	}, nil
}

func (p *parser) parseIssueTime(start xml.StartElement) error {
	text, err := p.text(start)
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("%w: issue time %q: %v", ErrUnsupportedSchema, text, err)
	}
	p.issuedAt = t.UTC()
	return nil
}

// parseTimeSteps reads the shared timestep axis. The axis must be strictly
// increasing; downstream evaluation relies on it.
func (p *parser) parseTimeSteps(start xml.StartElement) error {
	var steps struct {
		TimeSteps []string `xml:"TimeStep"`
	}
	if err := p.decoder.DecodeElement(&steps, &start); err != nil {
		return fmt.Errorf("%w: timestep axis: %v", ErrMalformedBulletin, err)
	}

	timestamps := make([]time.Time, 0, len(steps.TimeSteps))
	for _, raw := range steps.TimeSteps {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: timestep %q: %v", ErrUnsupportedSchema, raw, err)
		}
		t = t.UTC()
		if len(timestamps) > 0 && !t.After(timestamps[len(timestamps)-1]) {
			return fmt.Errorf("%w: timestep axis not strictly increasing at %s", ErrUnsupportedSchema, raw)
		}
		timestamps = append(timestamps, t)
	}
	p.timestamps = timestamps
	return nil
}

// placemark mirrors one kml:Placemark. Forecast arrays live under
// ExtendedData as dwd:Forecast elements with an elementName attribute and a
// whitespace-separated dwd:value text payload.
type placemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Coordinates string `xml:"Point>coordinates"`
	Forecasts   []struct {
		ElementName string `xml:"elementName,attr"`
		Value       string `xml:"value"`
	} `xml:"ExtendedData>Forecast"`
}

func (p *parser) parsePlacemark(start xml.StartElement) error {
	var pm placemark
	if err := p.decoder.DecodeElement(&pm, &start); err != nil {
		return fmt.Errorf("%w: placemark: %v", ErrMalformedBulletin, err)
	}

	id := strings.TrimSpace(pm.Name)
	name := strings.TrimSpace(pm.Description)
	if id == "" {
		p.skip("", name, "missing station id")
		return nil
	}
	if _, exists := p.series[id]; exists {
		p.skip(id, name, "duplicate station id")
		return nil
	}

	coord, altitude, err := parseCoordinates(pm.Coordinates)
	if err != nil {
		p.skip(id, name, err.Error())
		return nil
	}

	if len(p.timestamps) == 0 {
		return fmt.Errorf("%w: placemark %s before forecast timestep axis", ErrUnsupportedSchema, id)
	}

	series := &domain.ForecastSeries{
		StationID:  id,
		Timestamps: p.timestamps,
		Params:     make(map[string][]domain.Value, len(pm.Forecasts)),
	}
	for _, fc := range pm.Forecasts {
		param, convert := normalizeElement(fc.ElementName)
		if param == "" {
			continue
		}
		col, skippedVals, ok := p.parseColumn(fc.Value, convert)
		if !ok {
			p.skip(id, name, fmt.Sprintf("parameter %s has %d values, axis has %d",
				fc.ElementName, len(strings.Fields(fc.Value)), len(p.timestamps)))
			return nil
		}
		p.skippedSamples += skippedVals
		series.Params[param] = col
	}
	if len(series.Params) == 0 {
		p.skip(id, name, "no forecast values")
		return nil
	}

	p.stations = append(p.stations, domain.Station{
		ID:         id,
		Name:       name,
		Coordinate: coord,
		Altitude:   altitude,
		Parameters: series.ParameterNames(),
	})
	p.series[id] = series
	return nil
}

// normalizeElement maps a raw MOSMIX code to its normalized name and
// conversion. Unknown codes pass through unchanged so they stay queryable
// without ever being dispatch targets.
func normalizeElement(code string) (string, func(float64) float64) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	if el, ok := elements[code]; ok {
		return el.name, el.convert
	}
	return code, identity
}

// parseColumn splits a raw value array and parses each entry. "-" is the
// bulletin's explicit missing marker; an unparsable entry is recorded as
// missing rather than failing the station. Returns ok=false when the array
// length does not match the timestep axis.
func (p *parser) parseColumn(raw string, convert func(float64) float64) ([]domain.Value, int, bool) {
	fields := strings.Fields(raw)
	if len(fields) != len(p.timestamps) {
		return nil, 0, false
	}

	col := make([]domain.Value, len(fields))
	skipped := 0
	for i, f := range fields {
		if f == "-" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		col[i] = domain.Value{Float: convert(v), Valid: true}
	}
	return col, skipped, true
}

func parseCoordinates(raw string) (domain.Coordinate, float64, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) < 2 {
		return domain.Coordinate{}, 0, errors.New("missing coordinates")
	}
	lon, errLon := strconv.ParseFloat(parts[0], 64)
	lat, errLat := strconv.ParseFloat(parts[1], 64)
	if errLon != nil || errLat != nil {
		return domain.Coordinate{}, 0, errors.New("unparsable coordinates")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return domain.Coordinate{}, 0, errors.New("coordinates out of range")
	}
	var altitude float64
	if len(parts) > 2 {
		altitude, _ = strconv.ParseFloat(parts[2], 64)
	}
	return domain.Coordinate{Lat: lat, Lon: lon}, altitude, nil
}

func (p *parser) skip(id, name, reason string) {
	p.logger.Warn("skipping station", "station_id", id, "name", name, "reason", reason)
	p.skipped = append(p.skipped, domain.SkippedStation{ID: id, Name: name, Reason: reason})
}

// text reads the character data of a simple element.
func (p *parser) text(start xml.StartElement) (string, error) {
	var s string
	if err := p.decoder.DecodeElement(&s, &start); err != nil {
		return "", fmt.Errorf("%w: element %s: %v", ErrMalformedBulletin, start.Name.Local, err)
	}
	return s, nil
}
