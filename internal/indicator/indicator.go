// Package indicator drives a GPIO output (dash LED or buzzer) high for a
// short pulse whenever the lap timer reports a crossing.
package indicator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"laptimer/internal/laptimer"
)

type outputLine interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

type Config struct {
	Enable bool
	// Pin is BCM GPIO numbering.
	Pin   int
	Pulse time.Duration
}

type Snapshot struct {
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Pin       int    `json:"pin,omitempty"`
	Pulses    uint64 `json:"pulses"`
	LastError string `json:"last_error,omitempty"`
}

// Service is a laptimer.Sink. Crossings that arrive while a pulse is already
// pending are merged into it.
type Service struct {
	cfg Config

	trig   chan struct{}
	pulses uint64

	mu      sync.Mutex
	line    outputLine
	lastErr string

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Service {
	if cfg.Pulse <= 0 {
		cfg.Pulse = 300 * time.Millisecond
	}
	return &Service{
		cfg:    cfg,
		trig:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start opens the GPIO line and runs the pulse loop until ctx is done or
// Close is called. A disabled service starts as a no-op.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enable {
		return nil
	}
	line, err := openLineFn(s.cfg.Pin)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.mu.Lock()
	s.line = line
	s.mu.Unlock()
	log.Printf("indicator enabled pin=%d pulse=%s", s.cfg.Pin, s.cfg.Pulse)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, line)
	}()
	return nil
}

func (s *Service) loop(ctx context.Context, line outputLine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.trig:
		}

		atomic.AddUint64(&s.pulses, 1)
		if err := line.SetValue(1); err != nil {
			s.setErr(err)
			continue
		}
		t := time.NewTimer(s.cfg.Pulse)
		select {
		case <-t.C:
		case <-ctx.Done():
		case <-s.stopCh:
			t.Stop()
		}
		if err := line.SetValue(0); err != nil {
			s.setErr(err)
		}
	}
}

// Publish implements laptimer.Sink.
func (s *Service) Publish(ev laptimer.Event) {
	switch ev.Kind {
	case laptimer.LapStarted, laptimer.IntervalDone, laptimer.LapRestarted:
	default:
		// LapCompleted is emitted together with the sector3 interval.
		return
	}
	select {
	case s.trig <- struct{}{}:
	default:
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:   s.cfg.Enable,
		Available: s.line != nil,
		Pin:       s.cfg.Pin,
		Pulses:    atomic.LoadUint64(&s.pulses),
		LastError: s.lastErr,
	}
}

func (s *Service) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Close stops the loop and releases the line, leaving it low.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	line := s.line
	s.line = nil
	s.mu.Unlock()
	if line != nil {
		_ = line.Close()
	}
}
