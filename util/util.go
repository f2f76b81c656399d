// Package util provides timing utilities shared by the run loop and its tests.
//
// Includes a pluggable clock, the elapsed-interval gate, and context-aware waiting.
package util

import (
	"context"
	"sync"
	"time"
)

// --------------------------------------------------------------------------------
// Constants

const (
	// DefaultMinWait is the minimum wait duration when invalid or zero.
	DefaultMinWait = time.Millisecond
)

// --------------------------------------------------------------------------------
// Clock

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock whose time only moves when told to.
//
// It is safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

// --------------------------------------------------------------------------------
// Utility Functions

// Due reports whether at least interval has elapsed between last and now.
//
// A non-positive interval is always due.
func Due(last, now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}

	return now.Sub(last) >= interval
}

// Wait blocks for d or until ctx is done.
//
// Returns ctx.Err() if the context is canceled first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = DefaultMinWait
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
