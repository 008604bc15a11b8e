package geo

import (
	"errors"
	"math"
	"testing"
)

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		name  string
		field string
		role  Role
		hemi  string
		want  float64
	}{
		{name: "lat north", field: "2655.4854", role: Latitude, hemi: "N", want: 26.924757},
		{name: "lat south", field: "2655.4854", role: Latitude, hemi: "S", want: -26.924757},
		{name: "lon west", field: "04856.6182", role: Longitude, hemi: "W", want: -48.943637},
		{name: "lon east", field: "01131.000", role: Longitude, hemi: "E", want: 11.516667},
		{name: "lat no fraction", field: "4807", role: Latitude, hemi: "N", want: 48.116667},
		{name: "lon zero padded", field: "00030.0000", role: Longitude, hemi: "E", want: 0.5},
		{name: "lowercase hemisphere", field: "0000.6000", role: Latitude, hemi: "s", want: -0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCoordinate(tt.field, tt.role, tt.hemi)
			if err != nil {
				t.Fatalf("ParseCoordinate() error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-4 {
				t.Fatalf("got=%f want=%f", got, tt.want)
			}
		})
	}
}

func TestParseCoordinate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		field string
		role  Role
		hemi  string
	}{
		{name: "empty", field: "", role: Latitude, hemi: "N"},
		{name: "lat too short", field: "265", role: Latitude, hemi: "N"},
		{name: "lon too short", field: "0485", role: Longitude, hemi: "W"},
		{name: "wrong hemisphere for role", field: "2655.4854", role: Latitude, hemi: "E"},
		{name: "missing hemisphere", field: "04856.6182", role: Longitude, hemi: ""},
		{name: "letters", field: "ab55.4854", role: Latitude, hemi: "N"},
		{name: "signed minutes", field: "26-5.4854", role: Latitude, hemi: "N"},
		{name: "minutes overflow", field: "2675.0000", role: Latitude, hemi: "N"},
		{name: "lat out of range", field: "9130.0000", role: Latitude, hemi: "N"},
		{name: "hex float minutes", field: "260x1p4", role: Latitude, hemi: "S"},
		{name: "exponent minutes", field: "2605e-1", role: Latitude, hemi: "S"},
		{name: "one minute digit", field: "265.4854", role: Latitude, hemi: "S"},
		{name: "trailing dot", field: "2655.", role: Latitude, hemi: "S"},
		{name: "two dots", field: "2655.48.54", role: Latitude, hemi: "S"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCoordinate(tt.field, tt.role, tt.hemi)
			if !errors.Is(err, ErrCoordinateFormat) {
				t.Fatalf("err=%v want ErrCoordinateFormat", err)
			}
		})
	}
}

func TestDistance_ZeroAndSymmetric(t *testing.T) {
	pts := []Point{
		{Lat: -26.925389, Lon: -48.941590},
		{Lat: -26.924442, Lon: -48.940674},
		{Lat: 90, Lon: 0},
		{Lat: 0, Lon: 180},
		{Lat: 48.1173, Lon: 11.516667},
	}
	for _, a := range pts {
		if d := a.DistanceTo(a); d != 0 {
			t.Fatalf("distance(%v,%v)=%f want 0", a, a, d)
		}
		for _, b := range pts {
			ab := a.DistanceTo(b)
			ba := b.DistanceTo(a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Fatalf("asymmetric: %f vs %f", ab, ba)
			}
		}
	}
}

func TestDistance_Antipodal(t *testing.T) {
	d := Distance(10, 20, -10, -160)
	if math.IsNaN(d) {
		t.Fatalf("distance is NaN")
	}
	want := math.Pi * EarthRadiusM
	if math.Abs(d-want) > 1 {
		t.Fatalf("got=%f want=%f", d, want)
	}
}

func TestDistance_KnownTrackPoints(t *testing.T) {
	// Start line to sector 1 on the reference track is roughly 140 m.
	d := Distance(-26.925389, -48.941590, -26.924442, -48.940674)
	if d < 120 || d > 160 {
		t.Fatalf("unexpected distance %f", d)
	}
}
