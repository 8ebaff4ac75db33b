package shell

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations to enable testing
// the card wait and loop delay logic without real time delays.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// After returns a channel that will receive a value after the duration
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// FakeClock implements Clock for testing with controllable time
type FakeClock struct {
	mu     sync.RWMutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{
		now:    startTime,
		timers: make([]*fakeTimer, 0),
	}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.now
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{
		deadline: fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.timers = append(fc.timers, ft)
	return ft.c
}

// Advance moves the fake clock forward by the given duration and fires
// any pending timers whose deadline has been reached.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, timer := range fc.timers {
		if !timer.fired && !fc.now.Before(timer.deadline) {
			select {
			case timer.c <- fc.now:
				timer.fired = true // Timers only fire once
			default:
				// Channel full, skip
			}
		}
	}
}

// fakeTimer backs a channel handed out by After
type fakeTimer struct {
	deadline time.Time
	c        chan time.Time
	fired    bool
}
