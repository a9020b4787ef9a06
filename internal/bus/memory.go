package bus

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Broker is an in-process publish/subscribe hub. Every publish is fanned
// out to all connected clients subscribed to the topic, including the
// publisher, matching MQTT semantics for non-local subscriptions.
type Broker struct {
	mu      sync.RWMutex
	clients map[*MemoryClient]struct{}
	closed  bool
}

// NewBroker returns an open broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[*MemoryClient]struct{})}
}

// Client returns a new, unconnected client of b.
func (b *Broker) Client() *MemoryClient {
	return &MemoryClient{broker: b, inbox: NewInbox(), topics: make(map[string]struct{})}
}

// Close disconnects every client and refuses further connections.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		c.setConnected(false)
	}
	b.clients = make(map[*MemoryClient]struct{})
}

func (b *Broker) attach(c *MemoryClient) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.clients[c] = struct{}{}
	return nil
}

func (b *Broker) detach(c *MemoryClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *Broker) publish(topic string, payload []byte) {
	b.mu.RLock()
	targets := make([]*MemoryClient, 0, len(b.clients))
	for c := range b.clients {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.inbox.Deliver(Message{Topic: topic, Payload: bytes.Clone(payload)})
	}
}

// MemoryClient is a Bus backed by a Broker.
type MemoryClient struct {
	broker *Broker
	inbox  *Inbox

	mu        sync.RWMutex
	connected bool
	topics    map[string]struct{}
}

var _ Bus = (*MemoryClient)(nil)

func (c *MemoryClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.broker.attach(c); err != nil {
		return err
	}
	c.setConnected(true)
	return nil
}

func (c *MemoryClient) Subscribe(_ context.Context, topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return nil
}

func (c *MemoryClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.isConnected() {
		return ErrNotConnected
	}
	c.broker.publish(topic, payload)
	return nil
}

func (c *MemoryClient) Poll(ctx context.Context, timeout time.Duration) ([]Message, error) {
	if !c.isConnected() && c.inbox.Len() == 0 {
		return nil, ErrNotConnected
	}
	return c.inbox.Wait(ctx, timeout)
}

func (c *MemoryClient) Disconnect() error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	c.broker.detach(c)
	c.setConnected(false)
	return nil
}

func (c *MemoryClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *MemoryClient) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MemoryClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}
