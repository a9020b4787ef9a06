package bus

import (
	"context"
	"sync"
	"time"
)

// Inbox buffers deliveries between a transport's receive path and a
// participant's Poll.
type Inbox struct {
	mu      sync.Mutex
	pending []Message
	notify  chan struct{}
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

// Deliver queues a message. It never blocks.
func (in *Inbox) Deliver(msg Message) {
	in.mu.Lock()
	in.pending = append(in.pending, msg)
	in.mu.Unlock()

	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

// Drain returns and clears everything queued.
func (in *Inbox) Drain() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.pending
	in.pending = nil
	return out
}

// Wait blocks until a message is queued, timeout passes, or ctx ends, then
// drains. A non-positive timeout drains without waiting.
func (in *Inbox) Wait(ctx context.Context, timeout time.Duration) ([]Message, error) {
	if timeout <= 0 {
		return in.Drain(), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for in.Len() == 0 {
		select {
		case <-in.notify:
		case <-timer.C:
			return in.Drain(), nil
		case <-ctx.Done():
			return in.Drain(), ctx.Err()
		}
	}
	return in.Drain(), nil
}
