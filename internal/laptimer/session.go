package laptimer

import (
	"log"
	"sync/atomic"

	"laptimer/internal/gps"
)

// Sink receives timing events. Publish is called on the ingestion goroutine
// and must not block.
type Sink interface {
	Publish(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// SessionSnapshot is the reporting view of the machine.
type SessionSnapshot struct {
	Phase         string `json:"phase"`
	Sector        int    `json:"sector"`
	Lap           int    `json:"lap"`
	LapsCompleted int    `json:"laps_completed"`
}

// Session drives a Timer from the GPS stream and fans its events out to
// sinks. It implements gps.FixHandler.
type Session struct {
	timer *Timer
	sinks []Sink

	completed int
	snap      atomic.Value // SessionSnapshot
}

func NewSession(timer *Timer, sinks ...Sink) *Session {
	s := &Session{timer: timer}
	for _, sk := range sinks {
		if sk != nil {
			s.sinks = append(s.sinks, sk)
		}
	}
	s.snap.Store(SessionSnapshot{Phase: Idle.String()})
	return s
}

var _ gps.FixHandler = (*Session)(nil)

func (s *Session) HandleFix(fix gps.Fix) {
	events := s.timer.Evaluate(fix)
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		if ev.Kind == LapCompleted {
			s.completed++
		}
		log.Printf("lap event %s", ev)
		for _, sk := range s.sinks {
			sk.Publish(ev)
		}
	}

	st := s.timer.State()
	sector := 0
	switch st.Phase() {
	case Running1:
		sector = 1
	case Running2:
		sector = 2
	}
	s.snap.Store(SessionSnapshot{
		Phase:         st.Phase().String(),
		Sector:        sector,
		Lap:           s.timer.Lap(),
		LapsCompleted: s.completed,
	})
}

func (s *Session) Snapshot() SessionSnapshot {
	if s == nil {
		return SessionSnapshot{}
	}
	return s.snap.Load().(SessionSnapshot)
}
