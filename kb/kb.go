package kb

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ewjax/SubBots/model"
)

// ErrUnknownPlatform is returned when an operation names a platform that has
// not registered.
var ErrUnknownPlatform = errors.New("platform not registered")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPlatformRegistered EventType = iota
	EventPlatformUpdated
	EventKeyEstablished
)

func (t EventType) String() string {
	switch t {
	case EventPlatformRegistered:
		return "registered"
	case EventPlatformUpdated:
		return "updated"
	case EventKeyEstablished:
		return "key_established"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Entry is the umpire's view of one registered platform.
type Entry struct {
	Identity model.PlatformIdentity
	// Status is the last reported kinematic state; valid when HasStatus.
	Status    model.KinematicState
	HasStatus bool
	LastSeen  time.Time
	SharedKey []byte
}

func (e Entry) clone() Entry {
	if e.SharedKey != nil {
		e.SharedKey = bytes.Clone(e.SharedKey)
	}
	return e
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type  EventType
	Entry Entry
}

// KnowledgeBase is an in-memory, thread-safe registry of platforms keyed by
// platform id.
type KnowledgeBase struct {
	mu sync.RWMutex

	platforms map[uuid.UUID]*Entry

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		platforms: make(map[uuid.UUID]*Entry),
		subs:      make(map[int]func(Event)),
	}
}

// Register adds a platform or refreshes the identity of one already known.
// Re-registration keeps the last status and shared key.
func (kb *KnowledgeBase) Register(id model.PlatformIdentity, seen time.Time) error {
	if id.ID == uuid.Nil {
		return fmt.Errorf("register platform: nil id")
	}
	kb.mu.Lock()
	e, ok := kb.platforms[id.ID]
	if !ok {
		e = &Entry{}
		kb.platforms[id.ID] = e
	}
	e.Identity = id
	e.LastSeen = seen
	ev := Event{Type: EventPlatformRegistered, Entry: e.clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	if !ok {
		notify(subs, ev)
	}
	return nil
}

// UpdateStatus records the latest kinematic state reported for a platform.
func (kb *KnowledgeBase) UpdateStatus(id uuid.UUID, state model.KinematicState, seen time.Time) error {
	kb.mu.Lock()
	e, ok := kb.platforms[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("update status for %s: %w", id, ErrUnknownPlatform)
	}
	e.Status = state
	e.HasStatus = true
	e.LastSeen = seen
	ev := Event{Type: EventPlatformUpdated, Entry: e.clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// SetSharedKey stores the session key derived with a platform.
func (kb *KnowledgeBase) SetSharedKey(id uuid.UUID, key []byte) error {
	kb.mu.Lock()
	e, ok := kb.platforms[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("set shared key for %s: %w", id, ErrUnknownPlatform)
	}
	e.SharedKey = bytes.Clone(key)
	ev := Event{Type: EventKeyEstablished, Entry: e.clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// Get returns a copy of the entry for id.
func (kb *KnowledgeBase) Get(id uuid.UUID) (Entry, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.platforms[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns a snapshot of all entries ordered by platform id.
func (kb *KnowledgeBase) List() []Entry {
	kb.mu.RLock()
	res := make([]Entry, 0, len(kb.platforms))
	for _, e := range kb.platforms {
		res = append(res, e.clone())
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].Identity.ID[:], res[j].Identity.ID[:]) < 0
	})
	return res
}

// Count returns the number of registered platforms.
func (kb *KnowledgeBase) Count() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.platforms)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
