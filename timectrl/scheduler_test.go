package timectrl

import (
	"testing"
	"time"
)

func newTestScheduler() (*TimeController, *Scheduler) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)
	return tc, NewScheduler(tc)
}

func TestSchedulerRunsEventsInTimeOrder(t *testing.T) {
	tc, s := newTestScheduler()
	var order []string
	s.Schedule(tc.Now().Add(2*time.Second), func() { order = append(order, "b") })
	s.Schedule(tc.Now().Add(time.Second), func() { order = append(order, "a") })
	s.Schedule(tc.Now().Add(2*time.Second), func() { order = append(order, "c") })

	if ran := s.RunDue(); ran != 0 {
		t.Fatalf("RunDue before due ran %d events", ran)
	}
	tc.Advance()
	if ran := s.RunDue(); ran != 1 {
		t.Fatalf("RunDue at +1s ran %d, want 1", ran)
	}
	tc.Advance()
	s.RunDue()

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestSchedulerPastDueRunsImmediately(t *testing.T) {
	tc, s := newTestScheduler()
	ran := false
	s.Schedule(tc.Now().Add(-time.Hour), func() { ran = true })
	s.RunDue()
	if !ran {
		t.Fatalf("past-due event did not run")
	}
}

func TestSchedulerCancel(t *testing.T) {
	tc, s := newTestScheduler()
	ran := false
	id := s.Schedule(tc.Now(), func() { ran = true })
	s.Cancel(id)
	s.Cancel("ev-unknown")
	if got := s.RunDue(); got != 0 || ran {
		t.Fatalf("cancelled event ran")
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestSchedulerReentrantSchedule(t *testing.T) {
	tc, s := newTestScheduler()
	var calls []string
	s.Schedule(tc.Now(), func() {
		calls = append(calls, "outer")
		s.Schedule(tc.Now(), func() { calls = append(calls, "inner") })
		s.Schedule(tc.Now().Add(time.Second), func() { calls = append(calls, "later") })
	})
	if ran := s.RunDue(); ran != 2 {
		t.Fatalf("RunDue ran %d, want 2", ran)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}
	if s.RunDue() != 0 {
		t.Fatalf("second RunDue re-ran events")
	}
	if len(calls) != 2 || calls[1] != "inner" {
		t.Fatalf("calls = %v", calls)
	}
}
