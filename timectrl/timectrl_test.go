package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeControllerStartsAtStart(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	if got := tc.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if tc.Ticks() != 0 {
		t.Fatalf("Ticks() = %d, want 0", tc.Ticks())
	}
}

func TestAdvanceStepsByTickAndNotifies(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 100*time.Millisecond, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })

	for i := 0; i < 3; i++ {
		tc.Advance()
	}

	want := start.Add(300 * time.Millisecond)
	if got := tc.Now(); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
	if tc.Ticks() != 3 {
		t.Fatalf("Ticks() = %d, want 3", tc.Ticks())
	}
	if len(seen) != 3 || !seen[2].Equal(want) {
		t.Fatalf("listener saw %v", seen)
	}
}

func TestPaceAccelerated(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Hour, Accelerated)
	start := time.Now()
	if err := tc.Pace(context.Background()); err != nil {
		t.Fatalf("Pace: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("accelerated Pace waited")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tc.Pace(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Pace on cancelled ctx = %v", err)
	}
}

func TestPaceRealTime(t *testing.T) {
	tc := NewTimeController(time.Now(), 10*time.Millisecond, RealTime)
	defer tc.Stop()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tc.Pace(context.Background()); err != nil {
			t.Fatalf("Pace: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("three real-time ticks took %v", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	slow := NewTimeController(time.Now(), time.Hour, RealTime)
	defer slow.Stop()
	if err := slow.Pace(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pace = %v, want deadline exceeded", err)
	}
}
