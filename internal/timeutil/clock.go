// Package timeutil abstracts the clock used for collection deadlines, tick
// pacing and measurement timestamps so tests can drive time by hand.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After delivers the clock's time on the channel once d has elapsed.
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a one-shot deadline.
type Timer interface {
	C() <-chan time.Time
	// Stop disarms the timer and reports whether it was still armed.
	Stop() bool
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTimer returns a Timer backed by time.Timer.
func (RealClock) NewTimer(d time.Duration) Timer { return wallTimer{time.NewTimer(d)} }

type wallTimer struct{ t *time.Timer }

func (w wallTimer) C() <-chan time.Time { return w.t.C }
func (w wallTimer) Stop() bool          { return w.t.Stop() }

// MockClock only moves when Set or Advance is called. Timers fire when the
// clock reaches their deadline, never before.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*MockTimer
}

// NewMockClock returns a MockClock reading start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set moves the clock to t and fires every armed timer whose deadline is at
// or before t. Fired and stopped timers are dropped.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t

	armed := c.timers[:0]
	for _, tm := range c.timers {
		switch {
		case !tm.armed:
		case t.Before(tm.deadline):
			armed = append(armed, tm)
		default:
			tm.armed = false
			tm.ch <- t
		}
	}
	clear(c.timers[len(armed):])
	c.timers = armed
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTimer{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		armed:    true,
	}
	c.timers = append(c.timers, t)
	return t
}

// PendingTimers counts armed timers. Tests poll it to know a consumer has
// set its deadline before advancing the clock.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.armed {
			n++
		}
	}
	return n
}

// MockTimer is a Timer owned by a MockClock. Its state is guarded by the
// clock's mutex.
type MockTimer struct {
	clock    *MockClock
	ch       chan time.Time
	deadline time.Time
	armed    bool
}

func (t *MockTimer) C() <-chan time.Time { return t.ch }

func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}
