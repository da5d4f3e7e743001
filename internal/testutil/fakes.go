// Package testutil provides deterministic fakes shared by tests.
package testutil

import (
	"strconv"
	"sync"
	"time"
)

// ManualClock implements csync.Clock with a time that only moves when a
// test advances it.
type ManualClock struct {
	mu sync.Mutex
	at time.Time
}

// NewManualClock starts a clock at the given instant.
func NewManualClock(at time.Time) *ManualClock {
	return &ManualClock{at: at}
}

// EpochClock starts a clock at an arbitrary fixed instant, 2025-03-09
// 14:00:00 UTC, so fixture timestamps stay stable across runs.
func EpochClock() *ManualClock {
	return NewManualClock(time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC))
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// SequenceIDs implements csync.IDGenerator, handing out "c1", "c2", ...
// so tests can predict the ids a service run will assign.
type SequenceIDs struct {
	mu sync.Mutex
	n  int
}

func NewSequenceIDs() *SequenceIDs {
	return &SequenceIDs{}
}

func (g *SequenceIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "c" + strconv.Itoa(g.n)
}
