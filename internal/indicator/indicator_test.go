package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"laptimer/internal/laptimer"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLine) snapshot() ([]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.values...), l.closed
}

func withFakeLine(t *testing.T, fl *fakeLine, openErr error) {
	t.Helper()
	old := openLineFn
	openLineFn = func(pin int) (outputLine, error) {
		if openErr != nil {
			return nil, openErr
		}
		return fl, nil
	}
	t.Cleanup(func() { openLineFn = old })
}

func waitValues(t *testing.T, fl *fakeLine, n int) []int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := fl.snapshot(); len(v) >= n {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	v, _ := fl.snapshot()
	t.Fatalf("values=%v want at least %d", v, n)
	return nil
}

func TestPulseOnCrossing(t *testing.T) {
	fl := &fakeLine{}
	withFakeLine(t, fl, nil)

	s := New(Config{Enable: true, Pin: 17, Pulse: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s.Publish(laptimer.Event{Kind: laptimer.LapStarted, Lap: 1})
	got := waitValues(t, fl, 2)
	if got[0] != 1 || got[1] != 0 {
		t.Fatalf("values=%v want [1 0]", got)
	}

	s.Close()
	if _, closed := fl.snapshot(); !closed {
		t.Fatalf("line not closed")
	}
	snap := s.Snapshot()
	if snap.Pulses != 1 || snap.Available {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestLapCompletedDoesNotPulse(t *testing.T) {
	s := New(Config{Enable: true, Pin: 17})
	s.Publish(laptimer.Event{Kind: laptimer.LapCompleted})
	s.Publish(laptimer.Event{Kind: laptimer.LapAborted})
	select {
	case <-s.trig:
		t.Fatalf("unexpected trigger")
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	s := New(Config{Enable: true, Pin: 17})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(laptimer.Event{Kind: laptimer.IntervalDone, Label: laptimer.LabelSector1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked without a running loop")
	}
}

func TestStartOpenFailure(t *testing.T) {
	want := errors.New("no gpio")
	withFakeLine(t, nil, want)

	s := New(Config{Enable: true, Pin: 17})
	if err := s.Start(context.Background()); !errors.Is(err, want) {
		t.Fatalf("err=%v want %v", err, want)
	}
	if snap := s.Snapshot(); snap.LastError != "no gpio" || snap.Available {
		t.Fatalf("snapshot=%+v", snap)
	}
	s.Close()
}

func TestDisabledIsNoop(t *testing.T) {
	withFakeLine(t, nil, errors.New("must not open"))
	s := New(Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.cfg.Pulse != 300*time.Millisecond {
		t.Fatalf("pulse=%s", s.cfg.Pulse)
	}
	s.Close()
}
