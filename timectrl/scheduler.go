package timectrl

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type scheduledEvent struct {
	id        string
	when      time.Time
	fn        func()
	cancelled bool
}

// Scheduler runs callbacks once simulation time reaches their due time.
// The owning loop calls RunDue after every Advance.
type Scheduler struct {
	clock SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first
	index   map[string]*scheduledEvent
}

// NewScheduler returns a scheduler reading time from clock.
func NewScheduler(clock SimClock) *Scheduler {
	return &Scheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers fn to run at simulation time at and returns an id for
// Cancel. Events due at the same time run in scheduling order.
func (s *Scheduler) Schedule(at time.Time, fn func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{id: fmt.Sprintf("ev-%d", s.counter), when: at, fn: fn}
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
	s.index[ev.id] = ev
	return ev.id
}

// Cancel drops a pending event. Unknown or already-run ids are ignored.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Pending returns the number of events not yet run or cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue runs every event due at or before the clock's current time and
// returns how many ran. Callbacks run outside the lock and may schedule
// further events; those run in the same call when already due.
func (s *Scheduler) RunDue() int {
	ran := 0
	for {
		ev := s.popDue()
		if ev == nil {
			return ran
		}
		if ev.fn != nil {
			ev.fn()
		}
		ran++
	}
}

func (s *Scheduler) popDue() *scheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if !ev.cancelled && ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		if ev.cancelled {
			continue
		}
		delete(s.index, ev.id)
		return ev
	}
	return nil
}
