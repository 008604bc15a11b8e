package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"laptimer/internal/config"
	"laptimer/internal/gps"
	"laptimer/internal/laptimer"
	"laptimer/internal/web"
)

type replaySummary struct {
	Sentences uint64
	Fixes     uint64
	Void      uint64
	Rejected  uint64
	Events    []laptimer.Event
	Laps      []time.Duration
}

// summarizeNMEA runs a recorded NMEA stream through a fresh timer. The timer
// clock follows the receiver's UTC time instead of the wall clock, so the
// reported durations match the session as driven. The clock only advances
// by forward steps between fixes; a receiver time that jumps back (reset,
// concatenated logs) holds it still.
func summarizeNMEA(r io.Reader, cps laptimer.Checkpoints, opts laptimer.Options) (replaySummary, error) {
	var s replaySummary

	var prev time.Time
	var now time.Duration
	opts.Clock = func() time.Duration { return now }
	timer := laptimer.NewTimer(laptimer.NewCheckpointStore(cps), opts)

	handler := gps.FixHandlerFunc(func(fix gps.Fix) {
		if !fix.UTC.IsZero() {
			if !prev.IsZero() {
				if d := fix.UTC.Sub(prev).Truncate(time.Microsecond); d > 0 {
					now += d
				}
			}
			prev = fix.UTC
		}
		for _, ev := range timer.Evaluate(fix) {
			s.Events = append(s.Events, ev)
			if ev.Kind == laptimer.LapCompleted {
				s.Laps = append(s.Laps, ev.Duration)
			}
		}
	})

	svc := gps.New(gps.Config{Enable: true, Source: "file"}, handler)
	if err := svc.Run(context.Background(), r, 0); err != nil {
		return s, err
	}
	snap := svc.Snapshot()
	s.Sentences = snap.Sentences
	s.Fixes = snap.Fixes
	s.Void = snap.Void
	s.Rejected = snap.Rejected
	return s, nil
}

func printReplaySummary(w io.Writer, path string, cfg config.Config) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	policy, err := laptimer.ParseReentryPolicy(cfg.Timing.Reentry)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := summarizeNMEA(f, web.CheckpointsFromConfig(cfg.Checkpoints), laptimer.Options{
		ToleranceM: cfg.Timing.ToleranceM,
		Reentry:    policy,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "sentences: %d\n", s.Sentences)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	fmt.Fprintf(w, "void: %d\n", s.Void)
	fmt.Fprintf(w, "rejected: %d\n", s.Rejected)
	fmt.Fprintf(w, "events:\n")
	for _, ev := range s.Events {
		fmt.Fprintf(w, "  %s\n", ev)
	}
	fmt.Fprintf(w, "laps:\n")
	for i, d := range s.Laps {
		fmt.Fprintf(w, "  %d: %s\n", i+1, laptimer.Format(d))
	}
	return nil
}
