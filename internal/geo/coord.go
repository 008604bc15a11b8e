// Package geo converts NMEA positional fields to decimal degrees and measures
// great-circle distances between points.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrCoordinateFormat is returned when a positional field cannot be converted.
var ErrCoordinateFormat = errors.New("coordinate format error")

// Role selects how a positional field is split into degrees and minutes.
type Role int

const (
	Latitude Role = iota
	Longitude
)

func (r Role) String() string {
	switch r {
	case Latitude:
		return "latitude"
	case Longitude:
		return "longitude"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// degreeDigits is the fixed width of the integer-degree prefix:
// ddmm.mmmm for latitude, dddmm.mmmm for longitude.
func (r Role) degreeDigits() int {
	if r == Longitude {
		return 3
	}
	return 2
}

func (r Role) maxDegrees() float64 {
	if r == Longitude {
		return 180
	}
	return 90
}

func (r Role) hemispheres() (pos, neg byte) {
	if r == Longitude {
		return 'E', 'W'
	}
	return 'N', 'S'
}

// Point is a position in signed decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// ParseCoordinate converts an NMEA positional field plus hemisphere letter into
// signed decimal degrees. The degree/minute split comes from role; the field
// must carry at least the degree digits and two whole-minute digits.
func ParseCoordinate(field string, role Role, hemi string) (float64, error) {
	field = strings.TrimSpace(field)
	hemi = strings.ToUpper(strings.TrimSpace(hemi))

	dd := role.degreeDigits()
	if len(field) < dd+2 {
		return 0, fmt.Errorf("%w: %s %q too short", ErrCoordinateFormat, role, field)
	}
	pos, neg := role.hemispheres()
	if len(hemi) != 1 || (hemi[0] != pos && hemi[0] != neg) {
		return 0, fmt.Errorf("%w: %s hemisphere %q", ErrCoordinateFormat, role, hemi)
	}

	degPart := field[:dd]
	for i := 0; i < len(degPart); i++ {
		if degPart[i] < '0' || degPart[i] > '9' {
			return 0, fmt.Errorf("%w: %s %q bad degrees", ErrCoordinateFormat, role, field)
		}
	}
	deg, err := strconv.Atoi(degPart)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrCoordinateFormat, role, field, err)
	}

	minPart := field[dd:]
	if !isMinutes(minPart) {
		return 0, fmt.Errorf("%w: %s %q bad minutes", ErrCoordinateFormat, role, field)
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrCoordinateFormat, role, field, err)
	}
	if mins >= 60 {
		return 0, fmt.Errorf("%w: %s %q minutes out of range", ErrCoordinateFormat, role, field)
	}

	dec := float64(deg) + mins/60.0
	if dec > role.maxDegrees() {
		return 0, fmt.Errorf("%w: %s %q out of range", ErrCoordinateFormat, role, field)
	}
	if hemi[0] == neg {
		dec = -dec
	}
	return dec, nil
}

// isMinutes reports whether s is two digits with an optional fraction (mm or mm.mmmm).
func isMinutes(s string) bool {
	if len(s) < 2 || !allDigits(s[:2]) {
		return false
	}
	rest := s[2:]
	if rest == "" {
		return true
	}
	return rest[0] == '.' && len(rest) > 1 && allDigits(rest[1:])
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
