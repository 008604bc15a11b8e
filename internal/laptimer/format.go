package laptimer

import (
	"fmt"
	"time"
)

// Split is a duration broken into clock components.
type Split struct {
	Minutes      int64 `json:"minutes"`
	Seconds      int64 `json:"seconds"`
	Milliseconds int64 `json:"milliseconds"`
}

// SplitMicros truncates (never rounds) a microsecond duration to whole
// milliseconds and splits it into minutes, seconds and milliseconds.
func SplitMicros(us int64) Split {
	totalMs := us / 1000
	return Split{
		Minutes:      totalMs / 60000,
		Seconds:      (totalMs % 60000) / 1000,
		Milliseconds: totalMs % 1000,
	}
}

func (s Split) String() string {
	return fmt.Sprintf("%02d:%02d:%03d", s.Minutes, s.Seconds, s.Milliseconds)
}

// FormatMicros renders a microsecond duration as MM:SS:mmm.
func FormatMicros(us int64) string {
	return SplitMicros(us).String()
}

// Format renders d as MM:SS:mmm.
func Format(d time.Duration) string {
	return FormatMicros(d.Microseconds())
}

// Record is the wire form of an Event used by the network sinks.
type Record struct {
	Kind   EventKind `json:"kind"`
	Label  Label     `json:"label,omitempty"`
	Lap    int       `json:"lap"`
	Micros int64     `json:"micros"`
	Time   string    `json:"time"`
}

func (e Event) Record() Record {
	us := e.Micros()
	return Record{Kind: e.Kind, Label: e.Label, Lap: e.Lap, Micros: us, Time: FormatMicros(us)}
}
