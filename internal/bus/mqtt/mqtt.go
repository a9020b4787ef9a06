// Package mqtt adapts an MQTT broker connection (Eclipse Paho) to bus.Bus.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/logging"
)

// qos 0: at most once, no acknowledgement tracking.
const qos byte = 0

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Client is a bus.Bus over a single MQTT connection.
type Client struct {
	broker config.BrokerConfig
	log    logging.Logger
	inbox  *bus.Inbox

	mu     sync.Mutex
	client paho.Client
}

var _ bus.Bus = (*Client)(nil)

// New returns an unconnected client for the configured broker.
func New(broker config.BrokerConfig, log logging.Logger) *Client {
	if log == nil {
		log = logging.Noop()
	}
	if broker.ClientID == "" {
		broker.ClientID = "subbots-" + uuid.NewString()
	}
	return &Client{broker: broker, log: log, inbox: bus.NewInbox()}
}

func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(c.broker.Address()).
		SetClientID(c.broker.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetConnectTimeout(connectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn(context.Background(), "mqtt connection lost", logging.Err(err))
		})

	client := paho.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", c.broker.Address(), err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.log.Info(ctx, "connected to mqtt broker",
		logging.String("host", c.broker.Host),
		logging.Int("port", c.broker.Port),
		logging.String("client_id", c.broker.ClientID),
	)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topics ...string) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = qos
	}
	return wait(ctx, client.SubscribeMultiple(filters, c.onMessage))
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return wait(ctx, client.Publish(topic, qos, false, payload))
}

func (c *Client) Poll(ctx context.Context, timeout time.Duration) ([]bus.Message, error) {
	if _, err := c.connected(); err != nil && c.inbox.Len() == 0 {
		return nil, err
	}
	return c.inbox.Wait(ctx, timeout)
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return bus.ErrNotConnected
	}
	client.Disconnect(disconnectQuiesce)
	c.log.Info(context.Background(), "disconnected from mqtt broker",
		logging.String("host", c.broker.Host),
		logging.Int("port", c.broker.Port),
	)
	return nil
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.inbox.Deliver(bus.Message{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)})
}

func (c *Client) connected() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnected() {
		return nil, bus.ErrNotConnected
	}
	return c.client, nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return errors.Join(ctx.Err(), tok.Error())
	}
}
