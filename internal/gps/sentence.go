package gps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"laptimer/internal/geo"
)

var (
	// ErrMalformedSentence marks an RMC sentence that could not be tokenized or
	// is missing a required field.
	ErrMalformedSentence = errors.New("malformed sentence")

	// ErrInvalidFix marks an RMC sentence whose status reports no satellite lock.
	ErrInvalidFix = errors.New("invalid fix")
)

const (
	// MaxFields bounds the number of comma-separated fields accepted in one
	// sentence, talker+type included.
	MaxFields = 20
	// MaxFieldLen bounds the length of any single field.
	MaxFieldLen = 19
	// MaxSentenceLen bounds the raw line length. NMEA allows 82; leave headroom
	// for proprietary receivers.
	MaxSentenceLen = 160

	rmcMinFields = 10

	// KnotsToKmh converts speed over ground from knots.
	KnotsToKmh = 1.852
)

// Fix is one RMC position/velocity sample.
type Fix struct {
	Valid     bool      `json:"valid"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedKmh  float64   `json:"speed_kmh"`
	UTC       time.Time `json:"utc"`
}

// Point returns the fix position.
func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Latitude, Lon: f.Longitude}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSentence, fmt.Sprintf(format, args...))
}

// isRMC reports whether line starts with "$" + two-letter talker + "RMC,".
// Any talker (GP, GN, GL, GA, GB) is accepted.
func isRMC(line string) bool {
	return len(line) >= 7 && line[0] == '$' && line[3:7] == "RMC,"
}

// tokenize splits the sentence payload (between '$' and the optional '*hh'
// checksum) into at most MaxFields fields. The returned strings alias line.
func tokenize(line string) ([]string, error) {
	if len(line) > MaxSentenceLen {
		return nil, malformed("sentence length %d exceeds %d", len(line), MaxSentenceLen)
	}
	payload := line[1:]
	if star := strings.LastIndexByte(payload, '*'); star != -1 {
		ck := strings.TrimSpace(payload[star+1:])
		payload = payload[:star]
		if len(ck) != 2 {
			return nil, malformed("bad checksum %q", ck)
		}
		if want := nmea.Checksum(payload); !strings.EqualFold(ck, want) {
			return nil, malformed("checksum mismatch got=%s want=%s", strings.ToUpper(ck), want)
		}
	}

	fields := make([]string, 0, MaxFields)
	for {
		if len(fields) == MaxFields {
			return nil, malformed("more than %d fields", MaxFields)
		}
		comma := strings.IndexByte(payload, ',')
		f := payload
		if comma != -1 {
			f = payload[:comma]
		}
		if len(f) > MaxFieldLen {
			return nil, malformed("field %d longer than %d", len(fields), MaxFieldLen)
		}
		fields = append(fields, f)
		if comma == -1 {
			return fields, nil
		}
		payload = payload[comma+1:]
	}
}

// ParseLine parses one line of receiver output (CR/LF already stripped).
//
// Lines that are not RMC sentences return ok=false and a nil error. A void RMC
// (status V) returns ok=true with Fix.Valid=false. Any other problem returns
// an error wrapping ErrMalformedSentence.
func ParseLine(line string) (fix Fix, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !isRMC(line) {
		return Fix{}, false, nil
	}
	f, err := tokenize(line)
	if err != nil {
		return Fix{}, true, err
	}
	fix, err = parseRMC(f)
	return fix, true, err
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func parseRMC(f []string) (Fix, error) {
	if len(f) < rmcMinFields {
		return Fix{}, malformed("rmc has %d fields, need %d", len(f), rmcMinFields)
	}

	switch status := strings.TrimSpace(f[2]); status {
	case "A":
	case "V":
		return Fix{Valid: false}, nil
	default:
		return Fix{}, malformed("rmc status %q", status)
	}

	lat, err := geo.ParseCoordinate(f[3], geo.Latitude, f[4])
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %w", ErrMalformedSentence, err)
	}
	lon, err := geo.ParseCoordinate(f[5], geo.Longitude, f[6])
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %w", ErrMalformedSentence, err)
	}

	// Some receivers leave speed empty while stationary.
	var knots float64
	if s := strings.TrimSpace(f[7]); s != "" {
		if !isDecimal(s) {
			return Fix{}, malformed("rmc speed %q", s)
		}
		knots, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return Fix{}, malformed("rmc speed %q", s)
		}
	}

	utc, err := parseDateTime(f[9], f[1])
	if err != nil {
		return Fix{}, err
	}

	return Fix{
		Valid:     true,
		Latitude:  lat,
		Longitude: lon,
		SpeedKmh:  knots * KnotsToKmh,
		UTC:       utc,
	}, nil
}

// parseDateTime combines an RMC date (ddmmyy) and time (hhmmss[.sss]).
func parseDateTime(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 {
		return time.Time{}, malformed("rmc date %q", date)
	}
	if len(clock) < 6 {
		return time.Time{}, malformed("rmc time %q", clock)
	}

	day, err1 := atoi2(date[0:2])
	month, err2 := atoi2(date[2:4])
	year, err3 := atoi2(date[4:6])
	if err1 != nil || err2 != nil || err3 != nil || day < 1 || month < 1 || month > 12 {
		return time.Time{}, malformed("rmc date %q", date)
	}
	if day > daysIn(time.Month(month), 2000+year) {
		return time.Time{}, malformed("rmc date %q", date)
	}

	hh, err1 := atoi2(clock[0:2])
	mm, err2 := atoi2(clock[2:4])
	ss, err3 := atoi2(clock[4:6])
	if err1 != nil || err2 != nil || err3 != nil || hh > 23 || mm > 59 || ss > 60 {
		return time.Time{}, malformed("rmc time %q", clock)
	}
	var nanos int
	if frac := clock[6:]; frac != "" {
		if frac[0] != '.' || len(frac) == 1 || !isDecimal(frac[1:]) {
			return time.Time{}, malformed("rmc time %q", clock)
		}
		v, err := strconv.ParseFloat("0"+frac, 64)
		if err != nil {
			return time.Time{}, malformed("rmc time %q", clock)
		}
		nanos = int(v*1e9 + 0.5)
	}

	return time.Date(2000+year, time.Month(month), day, hh, mm, ss, nanos, time.UTC), nil
}

func atoi2(s string) (int, error) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, fmt.Errorf("not two digits: %q", s)
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), nil
}

// daysIn returns the number of days in month m of year y.
func daysIn(m time.Month, y int) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// isDecimal reports whether s is plain digits with an optional fraction.
// It rejects signs, exponents, hex floats, NaN and Inf.
func isDecimal(s string) bool {
	seenDot := false
	digits := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !seenDot && digits > 0 && i < len(s)-1:
			seenDot = true
		default:
			return false
		}
	}
	return digits > 0
}
