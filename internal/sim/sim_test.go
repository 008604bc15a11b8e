package sim

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"laptimer/internal/geo"
	"laptimer/internal/gps"
	"laptimer/internal/laptimer"
)

var (
	startPt   = geo.Point{Lat: -26.925389, Lon: -48.941590}
	sector1Pt = geo.Point{Lat: -26.924442, Lon: -48.940674}
	sector2Pt = geo.Point{Lat: -26.924355, Lon: -48.942377}
)

func testTrack(t *testing.T) Track {
	t.Helper()
	tr, err := CheckpointTrack(&startPt, &sector1Pt, &sector2Pt, 72)
	if err != nil {
		t.Fatalf("CheckpointTrack() error: %v", err)
	}
	return tr
}

func TestCheckpointTrack_RequiresAllPoints(t *testing.T) {
	if _, err := CheckpointTrack(&startPt, nil, &sector2Pt, 50); err == nil {
		t.Fatalf("expected error for missing sector1")
	}
	if _, err := CheckpointTrack(&startPt, &startPt, &startPt, 50); err == nil {
		t.Fatalf("expected error for degenerate track")
	}
}

func TestTrack_PositionWrapsAndStaysOnTrack(t *testing.T) {
	tr := testTrack(t)
	lapTime := time.Duration(tr.Length() / (tr.SpeedKmh / 3.6) * float64(time.Second))

	p0, _ := tr.Position(0)
	if p0.DistanceTo(startPt) > 0.01 {
		t.Fatalf("start position off by %f m", p0.DistanceTo(startPt))
	}
	p1, _ := tr.Position(lapTime)
	if p1.DistanceTo(startPt) > 0.5 {
		t.Fatalf("after one lap off by %f m", p1.DistanceTo(startPt))
	}

	// First leg heads north-east from start to sector 1.
	_, crs := tr.Position(time.Second)
	if crs <= 0 || crs >= 90 {
		t.Fatalf("course=%f want in (0,90)", crs)
	}
}

func TestRMC_ParsesBack(t *testing.T) {
	utc := time.Date(2024, time.March, 23, 12, 35, 19, 250_000_000, time.UTC)
	line := RMC(startPt, 100, 45, utc)

	fix, ok, err := gps.ParseLine(line)
	if err != nil || !ok || !fix.Valid {
		t.Fatalf("ParseLine(%q) ok=%v valid=%v err=%v", line, ok, fix.Valid, err)
	}
	if fix.Point().DistanceTo(startPt) > 0.5 {
		t.Fatalf("position off by %f m", fix.Point().DistanceTo(startPt))
	}
	if math.Abs(fix.SpeedKmh-100) > 0.2 {
		t.Fatalf("speed=%f want ~100", fix.SpeedKmh)
	}
	if !fix.UTC.Equal(utc) {
		t.Fatalf("utc=%s want %s", fix.UTC, utc)
	}
}

func TestDDMM_NeverPrintsSixtyMinutes(t *testing.T) {
	got, hemi := ddmm(-26.99999999, 2, "N", "S")
	if got != "2700.0000" || hemi != "S" {
		t.Fatalf("ddmm=%s %s", got, hemi)
	}
	got, hemi = ddmm(8.5, 3, "E", "W")
	if got != "00830.0000" || hemi != "E" {
		t.Fatalf("ddmm=%s %s", got, hemi)
	}
}

type limitWriter struct {
	buf    bytes.Buffer
	lines  int
	max    int
	cancel context.CancelFunc
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.lines >= w.max {
		return 0, errors.New("full")
	}
	w.lines++
	if w.lines == w.max && w.cancel != nil {
		w.cancel()
	}
	return w.buf.Write(p)
}

func TestStream_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &limitWriter{max: 3, cancel: cancel}
	start := time.Date(2024, time.March, 23, 12, 0, 0, 0, time.UTC)
	if err := Stream(ctx, w, testTrack(t), time.Millisecond, start); err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(w.buf.String()), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d want 3", len(lines))
	}
	fix, _, err := gps.ParseLine(lines[2])
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if want := start.Add(2 * time.Millisecond); !fix.UTC.Equal(want) {
		t.Fatalf("utc=%s want %s", fix.UTC, want)
	}
}

func TestStream_WriteErrorStops(t *testing.T) {
	w := &limitWriter{max: 0}
	if err := Stream(context.Background(), w, testTrack(t), time.Millisecond, time.Now()); err == nil {
		t.Fatalf("expected write error")
	}
}

// A simulated lap, fed sentence by sentence into the timer with the clock
// following sentence time, must come out at track length over speed.
func TestSimulatedLapThroughTimer(t *testing.T) {
	tr := testTrack(t)
	rate := 100 * time.Millisecond
	wantLap := time.Duration(tr.Length() / (tr.SpeedKmh / 3.6) * float64(time.Second))

	var buf bytes.Buffer
	start := time.Date(2024, time.March, 23, 12, 0, 0, 0, time.UTC)
	steps := int(2*wantLap/rate) + 5
	for n := 0; n < steps; n++ {
		el := time.Duration(n) * rate
		p, crs := tr.Position(el)
		buf.WriteString(RMC(p, tr.SpeedKmh, crs, start.Add(el)) + "\r\n")
	}

	var now time.Duration
	store := laptimer.NewCheckpointStore(laptimer.Checkpoints{Start: &startPt, Sector1: &sector1Pt, Sector2: &sector2Pt})
	timer := laptimer.NewTimer(store, laptimer.Options{Clock: func() time.Duration { return now }})

	var laps []time.Duration
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		fix, ok, err := gps.ParseLine(sc.Text())
		if err != nil || !ok {
			t.Fatalf("ParseLine: ok=%v err=%v", ok, err)
		}
		now = fix.UTC.Sub(start)
		for _, ev := range timer.Evaluate(fix) {
			if ev.Kind == laptimer.LapCompleted {
				laps = append(laps, ev.Duration)
			}
		}
	}
	if len(laps) == 0 {
		t.Fatalf("no lap completed in %d sentences", steps)
	}
	if diff := laps[0] - wantLap; diff < -time.Second || diff > time.Second {
		t.Fatalf("lap=%s want ~%s", laps[0], wantLap)
	}
}
