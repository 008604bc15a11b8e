package laptimer

import (
	"fmt"
	"strings"
	"time"

	"laptimer/internal/geo"
	"laptimer/internal/gps"
)

// DefaultToleranceM is the crossing radius used when Options.ToleranceM is unset.
const DefaultToleranceM = 10.0

// ReentryPolicy decides what happens when the start line is crossed again
// before both sectors of the running lap were completed.
type ReentryPolicy int

const (
	// ReentryIgnore leaves the running lap untouched.
	ReentryIgnore ReentryPolicy = iota
	// ReentryRestart discards the running lap and starts a new one.
	ReentryRestart
	// ReentryAbort discards the running lap and returns to idle.
	ReentryAbort
)

func (p ReentryPolicy) String() string {
	switch p {
	case ReentryIgnore:
		return "ignore"
	case ReentryRestart:
		return "restart"
	case ReentryAbort:
		return "abort"
	default:
		return fmt.Sprintf("reentry(%d)", int(p))
	}
}

func ParseReentryPolicy(s string) (ReentryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return ReentryIgnore, nil
	case "restart":
		return ReentryRestart, nil
	case "abort":
		return ReentryAbort, nil
	default:
		return 0, fmt.Errorf("unknown reentry policy %q", s)
	}
}

// Clock returns a monotonic timestamp with microsecond resolution.
type Clock func() time.Duration

// MonotonicClock returns a Clock measuring time since the call.
func MonotonicClock() Clock {
	epoch := time.Now()
	return func() time.Duration {
		return time.Since(epoch).Truncate(time.Microsecond)
	}
}

type EventKind int

const (
	LapStarted EventKind = iota
	IntervalDone
	LapCompleted
	LapRestarted
	LapAborted
)

func (k EventKind) String() string {
	switch k {
	case LapStarted:
		return "lap-started"
	case IntervalDone:
		return "interval"
	case LapCompleted:
		return "lap-completed"
	case LapRestarted:
		return "lap-restarted"
	case LapAborted:
		return "lap-aborted"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for c := LapStarted; c <= LapAborted; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Label names a timed segment.
type Label string

const (
	LabelSector1 Label = "sector1"
	LabelSector2 Label = "sector2"
	LabelSector3 Label = "sector3"
	LabelTotal   Label = "total"
)

// Event is emitted by Timer.Evaluate. Duration is set for IntervalDone
// (sector1..sector3) and LapCompleted (total).
type Event struct {
	Kind     EventKind     `json:"kind"`
	Label    Label         `json:"label,omitempty"`
	Duration time.Duration `json:"-"`
	At       time.Duration `json:"-"`
	Lap      int           `json:"lap"`
}

// Micros is Duration in whole microseconds.
func (e Event) Micros() int64 { return e.Duration.Microseconds() }

func (e Event) String() string {
	if e.Label == "" {
		return fmt.Sprintf("%s lap=%d", e.Kind, e.Lap)
	}
	return fmt.Sprintf("%s lap=%d label=%s time=%s", e.Kind, e.Lap, e.Label, Format(e.Duration))
}

// Phase is the externally visible machine state.
type Phase int

const (
	Idle Phase = iota
	Running0
	Running1
	Running2
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running0:
		return "running(0)"
	case Running1:
		return "running(1)"
	case Running2:
		return "running(2)"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the lap bookkeeping. Sector1Done implies Started; Sector2Done
// implies Sector1Done.
type State struct {
	Started            bool
	Sector1Done        bool
	Sector2Done        bool
	StartTime          time.Duration
	LastCheckpointTime time.Duration
}

func (s State) Phase() Phase {
	switch {
	case !s.Started:
		return Idle
	case s.Sector2Done:
		return Running2
	case s.Sector1Done:
		return Running1
	default:
		return Running0
	}
}

// CheckpointSource supplies the current timing lines.
type CheckpointSource interface {
	Checkpoints() Checkpoints
}

type Options struct {
	ToleranceM float64
	Reentry    ReentryPolicy
	Clock      Clock
}

// Timer is the lap/sector state machine. It is not safe for concurrent use;
// one ingestion goroutine owns it.
type Timer struct {
	opts   Options
	points CheckpointSource

	state State
	lap   int
}

func NewTimer(points CheckpointSource, opts Options) *Timer {
	if opts.ToleranceM <= 0 {
		opts.ToleranceM = DefaultToleranceM
	}
	if opts.Clock == nil {
		opts.Clock = MonotonicClock()
	}
	return &Timer{opts: opts, points: points}
}

func (t *Timer) State() State { return t.state }

// Lap returns the number of the current (or most recent) lap, starting at 1.
func (t *Timer) Lap() int { return t.lap }

// Evaluate runs one fix through the machine and returns the events it caused,
// in emission order. The clock is sampled once per call. Invalid fixes are
// ignored.
func (t *Timer) Evaluate(fix gps.Fix) []Event {
	if !fix.Valid {
		return nil
	}
	cps := t.points.Checkpoints()
	pos := fix.Point()
	near := func(p *geo.Point) bool {
		return p != nil && pos.DistanceTo(*p) < t.opts.ToleranceM
	}

	now := t.opts.Clock()
	var out []Event

	if near(cps.Start) {
		switch t.state.Phase() {
		case Idle:
			out = append(out, t.begin(now, LapStarted))
		case Running2:
			out = append(out,
				Event{Kind: IntervalDone, Label: LabelSector3, Duration: now - t.state.LastCheckpointTime, At: now, Lap: t.lap},
				Event{Kind: LapCompleted, Label: LabelTotal, Duration: now - t.state.StartTime, At: now, Lap: t.lap},
			)
			t.state = State{}
		default:
			switch t.opts.Reentry {
			case ReentryRestart:
				out = append(out, t.begin(now, LapRestarted))
			case ReentryAbort:
				out = append(out, Event{Kind: LapAborted, At: now, Lap: t.lap})
				t.state = State{}
			}
		}
	}

	if t.state.Phase() == Running0 && near(cps.Sector1) {
		out = append(out, Event{Kind: IntervalDone, Label: LabelSector1, Duration: now - t.state.StartTime, At: now, Lap: t.lap})
		t.state.Sector1Done = true
		t.state.LastCheckpointTime = now
	}

	if t.state.Phase() == Running1 && near(cps.Sector2) {
		out = append(out, Event{Kind: IntervalDone, Label: LabelSector2, Duration: now - t.state.LastCheckpointTime, At: now, Lap: t.lap})
		t.state.Sector2Done = true
		t.state.LastCheckpointTime = now
	}

	return out
}

func (t *Timer) begin(now time.Duration, kind EventKind) Event {
	t.lap++
	t.state = State{Started: true, StartTime: now, LastCheckpointTime: now}
	return Event{Kind: kind, At: now, Lap: t.lap}
}

// Reset returns the machine to idle without emitting anything.
func (t *Timer) Reset() {
	t.state = State{}
}
