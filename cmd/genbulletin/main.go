// Command genbulletin writes a small synthetic MOSMIX-style KMZ bundle for
// local runs and manual testing. It uses the same document structure the
// parser consumes (product definition, timestep axis, placemarks with
// aligned value arrays) so a generated bundle exercises the real pipeline.
//
// Usage:
//
//	go run ./cmd/genbulletin -out testdata/bulletin.kmz -hours 24
package main

import (
	"archive/zip"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"
)

type station struct {
	id   string
	name string
	lon  float64
	lat  float64
	alt  float64
	base float64 // base temperature in °C for the synthetic series
}

var stations = []station{
	{"10865", "MUENCHEN STADT", 11.54, 48.16, 526, 14},
	{"11035", "WIEN/HOHE WARTE", 16.36, 48.25, 203, 15},
	{"14015", "LJUBLJANA/BEZIGRAD", 14.51, 46.07, 299, 16},
	{"10469", "LEIPZIG-HOLZHAUSEN", 12.45, 51.32, 148, 13},
	{"06610", "PAYERNE", 6.94, 46.81, 490, 12},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "bulletin.kmz", "output KMZ path")
	hours := flag.Int("hours", 24, "number of hourly timesteps")
	issue := flag.String("issue", "", "issue time (RFC3339, default: last full hour UTC)")
	flag.Parse()

	issuedAt := time.Now().UTC().Truncate(time.Hour)
	if *issue != "" {
		t, err := time.Parse(time.RFC3339, *issue)
		if err != nil {
			return fmt.Errorf("invalid -issue: %w", err)
		}
		issuedAt = t.UTC()
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create("MOSMIX_S_SYNTHETIC.kml")
	if err != nil {
		return err
	}
	if _, err := entry.Write([]byte(buildKML(issuedAt, *hours))); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %s: %d stations, %d timesteps, issued %s\n",
		*out, len(stations), *hours, issuedAt.Format(time.RFC3339))
	return nil
}

func buildKML(issuedAt time.Time, hours int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<kml:kml xmlns:dwd="https://opendata.dwd.de/weather/lib/pointforecast_dwd_extension_V1_0.xsd" xmlns:kml="http://www.opengis.net/kml/2.2">
<kml:Document>
<kml:ExtendedData>
<dwd:ProductDefinition>
<dwd:Issuer>Synthetic</dwd:Issuer>
<dwd:ProductID>MOSMIX_S</dwd:ProductID>
`)
	fmt.Fprintf(&b, "<dwd:IssueTime>%s</dwd:IssueTime>\n", issuedAt.Format(time.RFC3339))
	b.WriteString("<dwd:ForecastTimeSteps>\n")
	for i := range hours {
		fmt.Fprintf(&b, "<dwd:TimeStep>%s</dwd:TimeStep>\n", issuedAt.Add(time.Duration(i+1)*time.Hour).Format(time.RFC3339))
	}
	b.WriteString("</dwd:ForecastTimeSteps>\n</dwd:ProductDefinition>\n</kml:ExtendedData>\n")

	for _, s := range stations {
		fmt.Fprintf(&b, "<kml:Placemark>\n<kml:name>%s</kml:name>\n<kml:description>%s</kml:description>\n", s.id, s.name)
		b.WriteString("<kml:ExtendedData>\n")
		writeForecast(&b, "TTT", temperatureSeries(s.base, hours))
		writeForecast(&b, "FF", windSeries(hours))
		writeForecast(&b, "RR1c", precipitationSeries(hours))
		b.WriteString("</kml:ExtendedData>\n")
		fmt.Fprintf(&b, "<kml:Point>\n<kml:coordinates>%.2f,%.2f,%.1f</kml:coordinates>\n</kml:Point>\n", s.lon, s.lat, s.alt)
		b.WriteString("</kml:Placemark>\n")
	}

	b.WriteString("</kml:Document>\n</kml:kml>\n")
	return b.String()
}

func writeForecast(b *strings.Builder, element string, values []string) {
	fmt.Fprintf(b, "<dwd:Forecast dwd:elementName=%q>\n<dwd:value>%s</dwd:value>\n</dwd:Forecast>\n",
		element, strings.Join(values, " "))
}

// temperatureSeries generates a diurnal temperature curve in Kelvin, the
// unit the real product uses.
func temperatureSeries(baseCelsius float64, hours int) []string {
	out := make([]string, hours)
	for i := range out {
		c := baseCelsius + 6*math.Sin(float64(i)/24*2*math.Pi)
		out[i] = fmt.Sprintf("%.2f", c+273.15)
	}
	return out
}

func windSeries(hours int) []string {
	out := make([]string, hours)
	for i := range out {
		out[i] = fmt.Sprintf("%.2f", 3+2*math.Sin(float64(i)/6))
	}
	return out
}

// precipitationSeries is mostly dry with an occasional missing sample, the
// way real bundles carry gaps.
func precipitationSeries(hours int) []string {
	out := make([]string, hours)
	for i := range out {
		switch {
		case i%13 == 7:
			out[i] = "-"
		case i%6 == 2:
			out[i] = "0.40"
		default:
			out[i] = "0.00"
		}
	}
	return out
}
