package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulation time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController paces ticks against the wall clock.
type Mode int

const (
	// RealTime waits one Tick of wall time between ticks.
	RealTime Mode = iota
	// Accelerated runs ticks back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "real_time"
}

// TimeController owns a participant's simulation time. The owning loop
// calls Advance once per tick and Pace between ticks; other goroutines may
// read Now concurrently.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	ticks       uint64

	listeners []func(time.Time)
	ticker    *time.Ticker
}

// NewTimeController constructs a controller starting at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Ticks returns how many ticks have been advanced.
func (tc *TimeController) Ticks() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked after every Advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves simulation time forward by one Tick and returns the new
// time.
func (tc *TimeController) Advance() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	tc.ticks++
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Pace blocks until the next tick is due. In RealTime mode ticks are spaced
// one Tick of wall time apart; in Accelerated mode Pace only checks ctx.
func (tc *TimeController) Pace(ctx context.Context) error {
	if tc.Mode == Accelerated || tc.Tick <= 0 {
		return ctx.Err()
	}
	if tc.ticker == nil {
		tc.ticker = time.NewTicker(tc.Tick)
	}
	select {
	case <-tc.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the pacing ticker.
func (tc *TimeController) Stop() {
	if tc.ticker != nil {
		tc.ticker.Stop()
		tc.ticker = nil
	}
}
