// Package messaging provides a NATS client wrapper for pub/sub messaging
// between server instances. Realtime rooms span instances: every instance
// holding a local member of a room subscribes to that room's subject, and
// events published by one instance fan out to all the others.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject prefixes. A room "chat:<matchID>" maps to the subject
// "room.chat.<matchID>", a room "user:<userID>" to "room.user.<userID>".
const (
	SubjectRoomChat = "room.chat"
	SubjectRoomUser = "room.user"
)

// RoomEvent is the envelope carried on room subjects. From identifies the
// publishing instance so subscribers can drop their own events; Data is the
// already-encoded server message to deliver to room members.
type RoomEvent struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// NATSClient wraps the NATS connection with room-scoped pub/sub helpers.
type NATSClient struct {
	conn *nats.Conn
	name string // this instance's identity, used for self-echo filtering
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string // nats://localhost:4222
	Name          string // instance name, must be unique across servers
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "match-app",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		name: config.Name,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishRoom publishes a server message to a room's subject, wrapped in a
// RoomEvent carrying this instance's name.
func (c *NATSClient) PublishRoom(room string, data []byte) error {
	event, err := json.Marshal(RoomEvent{From: c.name, Data: data})
	if err != nil {
		return fmt.Errorf("nats: marshal room event: %w", err)
	}
	return c.conn.Publish(SubjectForRoom(room), event)
}

// SubscribeRoom subscribes to a room's subject. Events published by this
// instance are dropped; everything else is handed to the handler as the raw
// server message bytes. Subscribing twice to the same room replaces the
// previous subscription.
func (c *NATSClient) SubscribeRoom(room string, handler func(data []byte)) error {
	subject := SubjectForRoom(room)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		data, deliver, err := decodeRoomEvent(msg.Data, c.name)
		if err != nil {
			log.Printf("[nats] bad room event on %s: %v", subject, err)
			return
		}
		if !deliver {
			return
		}
		handler(data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[room]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[room] = sub
	c.mu.Unlock()
	return nil
}

// decodeRoomEvent unwraps a RoomEvent and decides whether it should be
// delivered locally. Events originating from this instance are filtered out;
// anything published under a different instance name goes through.
func decodeRoomEvent(raw []byte, local string) (data []byte, deliver bool, err error) {
	var event RoomEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, false, err
	}
	return event.Data, event.From != local, nil
}

// UnsubscribeRoom drops the subscription for a room. Unsubscribing from a
// room that was never subscribed is a no-op.
func (c *NATSClient) UnsubscribeRoom(room string) error {
	c.mu.Lock()
	sub, ok := c.subs[room]
	if ok {
		delete(c.subs, room)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", SubjectForRoom(room), err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for room, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", room, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// SubjectForRoom maps a room name of the form "kind:id" to its NATS subject
// "room.<kind>.<id>".
func SubjectForRoom(room string) string {
	kind, id, found := strings.Cut(room, ":")
	if !found {
		return "room." + room
	}
	return "room." + kind + "." + id
}
