// Package sim drives a virtual vehicle around a closed track and renders its
// position as NMEA RMC sentences, so the timer can be exercised on the bench
// without a receiver.
package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"laptimer/internal/geo"
)

// Track is a closed polyline driven at constant speed. The last point joins
// back to the first.
type Track struct {
	Points   []geo.Point
	SpeedKmh float64
}

// CheckpointTrack runs start -> sector1 -> sector2 -> start.
func CheckpointTrack(start, sector1, sector2 *geo.Point, speedKmh float64) (Track, error) {
	if start == nil || sector1 == nil || sector2 == nil {
		return Track{}, errors.New("sim: all three checkpoints must be set")
	}
	tr := Track{Points: []geo.Point{*start, *sector1, *sector2}, SpeedKmh: speedKmh}
	if tr.Length() <= 0 {
		return Track{}, errors.New("sim: checkpoints are all at one position")
	}
	return tr, nil
}

// Length is one lap in metres.
func (t Track) Length() float64 {
	var sum float64
	for i := range t.Points {
		sum += t.Points[i].DistanceTo(t.Points[(i+1)%len(t.Points)])
	}
	return sum
}

// Position is where the vehicle is after elapsed, and its course over ground
// in degrees true.
func (t Track) Position(elapsed time.Duration) (geo.Point, float64) {
	if len(t.Points) == 0 {
		return geo.Point{}, 0
	}
	total := t.Length()
	if total <= 0 || t.SpeedKmh <= 0 {
		return t.Points[0], 0
	}
	d := math.Mod(t.SpeedKmh/3.6*elapsed.Seconds(), total)

	for i := range t.Points {
		a, b := t.Points[i], t.Points[(i+1)%len(t.Points)]
		seg := a.DistanceTo(b)
		if d > seg {
			d -= seg
			continue
		}
		f := 0.0
		if seg > 0 {
			f = d / seg
		}
		p := geo.Point{Lat: a.Lat + f*(b.Lat-a.Lat), Lon: a.Lon + f*(b.Lon-a.Lon)}
		return p, course(a, b)
	}
	return t.Points[0], 0
}

func course(a, b geo.Point) float64 {
	east := (b.Lon - a.Lon) * math.Cos(a.Lat*math.Pi/180)
	north := b.Lat - a.Lat
	return math.Mod(math.Atan2(east, north)*180/math.Pi+360, 360)
}

// ddmm renders v as NMEA degrees+minutes at 1e-4 minute resolution. Rounding
// happens on the whole value so minutes never print as 60.
func ddmm(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	units := int64(math.Round(v * 600000))
	deg := units / 600000
	min := float64(units%600000) / 10000
	return fmt.Sprintf("%0*d%07.4f", degDigits, deg, min), hemi
}

// RMC renders an active RMC sentence with checksum, without the line ending.
func RMC(p geo.Point, speedKmh, courseDeg float64, utc time.Time) string {
	utc = utc.UTC()
	lat, ns := ddmm(p.Lat, 2, "N", "S")
	lon, ew := ddmm(p.Lon, 3, "E", "W")
	payload := fmt.Sprintf("GPRMC,%s.%03d,A,%s,%s,%s,%s,%.1f,%.1f,%s,,",
		utc.Format("150405"), utc.Nanosecond()/1e6,
		lat, ns, lon, ew,
		speedKmh/1.852, courseDeg,
		utc.Format("020106"))
	return "$" + payload + "*" + nmea.Checksum(payload)
}
