// Package clock abstracts wall-clock access so the admission protocol,
// scheduler, and conformance monitor can be driven deterministically in
// tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to lifecycle decisions.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fake is a manually-advanced clock for tests.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake constructs a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
