package main

import (
	"strings"
	"time"

	"laptimer/internal/config"
	"laptimer/internal/geo"
	"laptimer/internal/sim"
)

var (
	startPt   = geo.Point{Lat: -26.925389, Lon: -48.941590}
	sector1Pt = geo.Point{Lat: -26.924442, Lon: -48.940674}
	sector2Pt = geo.Point{Lat: -26.924355, Lon: -48.942377}
	awayPt    = geo.Point{Lat: -26.930000, Lon: -48.950000}
)

func trackCheckpoints() config.CheckpointsConfig {
	pc := func(p geo.Point) *config.PointConfig { return &config.PointConfig{Lat: p.Lat, Lon: p.Lon} }
	return config.CheckpointsConfig{Start: pc(startPt), Sector1: pc(sector1Pt), Sector2: pc(sector2Pt)}
}

func rmcAt(p geo.Point, utc time.Time) string {
	return sim.RMC(p, 83.3, 90, utc)
}

// lapLog is one full lap: start, sector 1, sector 2 and back to start after
// 89.734 s, with noise lines in between.
func lapLog(t0 time.Time) string {
	lines := []string{
		"$GPGGA,ignored",
		rmcAt(awayPt, t0.Add(-time.Second)),
		rmcAt(startPt, t0),
		rmcAt(awayPt, t0.Add(10*time.Second)),
		"$GPRMC,garbage",
		rmcAt(sector1Pt, t0.Add(30*time.Second)),
		"$GPRMC,120000.00,V,,,,,,,230324,,",
		rmcAt(sector2Pt, t0.Add(61*time.Second)),
		rmcAt(startPt, t0.Add(89734*time.Millisecond)),
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }
