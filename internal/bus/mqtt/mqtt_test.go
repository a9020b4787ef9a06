package mqtt

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/logging"
)

func TestNewAssignsClientID(t *testing.T) {
	c := New(config.BrokerConfig{Host: "localhost", Port: 1883}, nil)
	if !strings.HasPrefix(c.broker.ClientID, "subbots-") {
		t.Fatalf("client id = %q, want generated subbots- prefix", c.broker.ClientID)
	}

	named := New(config.BrokerConfig{Host: "localhost", Port: 1883, ClientID: "umpire-1"}, logging.Noop())
	if named.broker.ClientID != "umpire-1" {
		t.Fatalf("client id = %q, want umpire-1", named.broker.ClientID)
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	ctx := context.Background()
	c := New(config.BrokerConfig{Host: "localhost", Port: 1883}, nil)

	if err := c.Publish(ctx, "general", []byte("x")); !errors.Is(err, bus.ErrNotConnected) {
		t.Fatalf("Publish = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe(ctx, "general"); !errors.Is(err, bus.ErrNotConnected) {
		t.Fatalf("Subscribe = %v, want ErrNotConnected", err)
	}
	if _, err := c.Poll(ctx, time.Millisecond); !errors.Is(err, bus.ErrNotConnected) {
		t.Fatalf("Poll = %v, want ErrNotConnected", err)
	}
	if err := c.Disconnect(); !errors.Is(err, bus.ErrNotConnected) {
		t.Fatalf("Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestConnectRefused(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(config.BrokerConfig{Host: "127.0.0.1", Port: port}, nil)
	if err := c.Connect(ctx); err == nil {
		t.Fatalf("Connect to closed port succeeded")
	}
}

func TestInboundMessagesReachPoll(t *testing.T) {
	c := New(config.BrokerConfig{Host: "localhost", Port: 1883}, nil)
	c.onMessage(nil, fakeMessage{topic: "general", payload: []byte("hello")})

	msgs, err := c.Poll(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("Poll with queued messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Topic != "general" || string(msgs[0].Payload) != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
