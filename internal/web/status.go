package web

import (
	"sync"
	"sync/atomic"
	"time"

	"laptimer/internal/gps"
	"laptimer/internal/laptimer"
)

// Sources lets Status read live state owned by other components. Each
// function must be safe to call concurrently.
type Sources struct {
	GPS         func() gps.Snapshot
	Session     func() laptimer.SessionSnapshot
	Checkpoints func() laptimer.Checkpoints
}

// Status caches the most recent timing results for the reporting API. It is
// written by the ingestion goroutine (as a laptimer.Sink) and read by HTTP
// handlers.
type Status struct {
	startUnixNano int64
	events        uint64

	src atomic.Value // Sources

	mu      sync.RWMutex
	results Results
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.src.Store(Sources{})
	return s
}

func (s *Status) SetSources(src Sources) {
	s.src.Store(src)
}

// Result is one reported duration.
type Result struct {
	Lap    int    `json:"lap"`
	Micros int64  `json:"micros"`
	Time   string `json:"time"`
}

func newResult(ev laptimer.Event) *Result {
	return &Result{Lap: ev.Lap, Micros: ev.Micros(), Time: laptimer.FormatMicros(ev.Micros())}
}

// Results holds the latest value per label plus the two most recent laps.
type Results struct {
	Sector1     *Result `json:"sector1,omitempty"`
	Sector2     *Result `json:"sector2,omitempty"`
	Sector3     *Result `json:"sector3,omitempty"`
	Total       *Result `json:"total,omitempty"`
	LastLap     *Result `json:"last_lap,omitempty"`
	PreviousLap *Result `json:"previous_lap,omitempty"`
}

// Publish implements laptimer.Sink.
func (s *Status) Publish(ev laptimer.Event) {
	atomic.AddUint64(&s.events, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case laptimer.LapStarted, laptimer.LapRestarted:
		// A new lap invalidates the splits of the previous one.
		s.results.Sector1, s.results.Sector2, s.results.Sector3 = nil, nil, nil
	case laptimer.IntervalDone:
		switch ev.Label {
		case laptimer.LabelSector1:
			s.results.Sector1 = newResult(ev)
		case laptimer.LabelSector2:
			s.results.Sector2 = newResult(ev)
		case laptimer.LabelSector3:
			s.results.Sector3 = newResult(ev)
		}
	case laptimer.LapCompleted:
		r := newResult(ev)
		s.results.Total = r
		s.results.PreviousLap = s.results.LastLap
		s.results.LastLap = r
	}
}

func (s *Status) Results() Results {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results
}

type StatusSnapshot struct {
	Service     string                   `json:"service"`
	NowUTC      string                   `json:"now_utc"`
	UptimeSec   int64                    `json:"uptime_sec"`
	SpeedKmh    *float64                 `json:"speed_kmh,omitempty"`
	GPS         gps.Snapshot             `json:"gps"`
	Lap         laptimer.SessionSnapshot `json:"lap"`
	Results     Results                  `json:"results"`
	Events      uint64                   `json:"events"`
	Checkpoints laptimer.Checkpoints     `json:"checkpoints"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	src := s.src.Load().(Sources)

	snap := StatusSnapshot{
		Service:   "laptimer",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Results:   s.Results(),
		Events:    atomic.LoadUint64(&s.events),
	}
	if src.GPS != nil {
		snap.GPS = src.GPS()
		snap.SpeedKmh = snap.GPS.SpeedKmh
	}
	if src.Session != nil {
		snap.Lap = src.Session()
	} else {
		snap.Lap = laptimer.SessionSnapshot{Phase: laptimer.Idle.String()}
	}
	if src.Checkpoints != nil {
		snap.Checkpoints = src.Checkpoints()
	}
	return snap
}
