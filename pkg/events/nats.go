package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// NATSPublisher publishes each change as JSON on "<prefix>.<kind>.<action>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials url and returns a publisher using subject prefix.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("pebble"), nats.MaxReconnects(5), nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATSPublisher(conn, prefix), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "pebble"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject events of kind and action are published on.
func (p *NATSPublisher) Subject(kind string, action store.Action) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, kind, action)
}

// Publish sends the events and flushes, honoring ctx.
func (p *NATSPublisher) Publish(ctx context.Context, mutation string, changes []store.Change) error {
	for _, ev := range NewEvents(mutation, changes, time.Now()) {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if err := p.conn.Publish(p.Subject(ev.Kind, ev.Action), data); err != nil {
			return fmt.Errorf("failed to publish %s %s: %w", ev.Kind, ev.Key, err)
		}
	}
	return p.conn.FlushWithContext(ctx)
}

// Subscribe delivers decoded events for every kind and action to handler.
func (p *NATSPublisher) Subscribe(handler func(Event)) (*nats.Subscription, error) {
	return p.conn.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		handler(ev)
	})
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
