// Package laptimer detects start/finish and sector line crossings from GPS
// fixes and times laps and sectors.
package laptimer

import (
	"fmt"
	"strings"
	"sync"

	"laptimer/internal/geo"
)

// Role identifies one of the three timing lines.
type Role int

const (
	Start Role = iota
	Sector1
	Sector2
)

var roleNames = [...]string{"start", "sector1", "sector2"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole accepts the lower-case names used in config and JSON.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range roleNames {
		if s == n {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown checkpoint %q", s)
}

// Checkpoints is a copy of the three timing lines. A nil entry has never been
// set and matches no fix.
type Checkpoints struct {
	Start   *geo.Point `json:"start"`
	Sector1 *geo.Point `json:"sector1"`
	Sector2 *geo.Point `json:"sector2"`
}

// Get returns the point for role, or nil when unset.
func (c Checkpoints) Get(r Role) *geo.Point {
	switch r {
	case Start:
		return c.Start
	case Sector1:
		return c.Sector1
	case Sector2:
		return c.Sector2
	}
	return nil
}

func (c *Checkpoints) set(r Role, p *geo.Point) {
	switch r {
	case Start:
		c.Start = p
	case Sector1:
		c.Sector1 = p
	case Sector2:
		c.Sector2 = p
	}
}

func (c Checkpoints) clone() Checkpoints {
	out := Checkpoints{}
	for r := Start; r <= Sector2; r++ {
		if p := c.Get(r); p != nil {
			v := *p
			out.set(r, &v)
		}
	}
	return out
}

// CheckpointStore holds the live checkpoint configuration. It is written by
// the settings API and read on every fix evaluation.
type CheckpointStore struct {
	mu  sync.RWMutex
	cur Checkpoints
}

func NewCheckpointStore(initial Checkpoints) *CheckpointStore {
	return &CheckpointStore{cur: initial.clone()}
}

// Checkpoints returns a consistent copy of all three lines.
func (s *CheckpointStore) Checkpoints() Checkpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Set stores p for role.
func (s *CheckpointStore) Set(r Role, p geo.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.set(r, &p)
}

// Clear marks role as unset.
func (s *CheckpointStore) Clear(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.set(r, nil)
}

// Replace swaps in all three lines at once.
func (s *CheckpointStore) Replace(c Checkpoints) {
	c = c.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = c
}
