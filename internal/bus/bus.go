// Package bus defines the publish/subscribe capability participants are
// built on, plus an in-process broker.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected reports use of a bus before Connect or after Disconnect.
	ErrNotConnected = errors.New("bus not connected")
	// ErrBrokerClosed reports a connection attempt to a closed broker.
	ErrBrokerClosed = errors.New("broker closed")
)

// Message is one delivery from a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the transport capability injected into platforms and the umpire.
// Delivery is at most once; order is preserved within a topic only.
type Bus interface {
	// Connect establishes the broker connection.
	Connect(ctx context.Context) error
	// Subscribe adds topic subscriptions.
	Subscribe(ctx context.Context, topics ...string) error
	// Publish sends payload on topic and returns once it is handed to the
	// broker.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Poll waits at most timeout for the first pending message, then
	// returns everything pending without further waiting.
	Poll(ctx context.Context, timeout time.Duration) ([]Message, error)
	// Disconnect releases the connection.
	Disconnect() error
}
