// Package testutil provides deterministic helpers for orchestrator and
// fault tests: a fake clock, a sleep recorder, and fixed run id generators.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a thread-safe manual clock. Each Now call advances time by a
// fixed step, so step durations in reports are deterministic.
type FakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewFakeClock creates a clock starting at a fixed epoch, advancing by step
// per Now call.
func NewFakeClock(step time.Duration) *FakeClock {
	return &FakeClock{
		t:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step: step,
	}
}

// Now returns the current fake time and advances it.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

// SleepRecorder captures sleep durations instead of sleeping. Pass Sleep to
// fault.WithSleep to run polling loops instantly in tests.
type SleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

// Sleep records d and returns immediately.
func (r *SleepRecorder) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
}

// Sleeps returns the recorded durations in order.
func (r *SleepRecorder) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)
	return out
}

// Count returns how many sleeps were recorded.
func (r *SleepRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}
