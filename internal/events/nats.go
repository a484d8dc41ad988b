package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher fans events out to external consumers after they are committed.
type Publisher interface {
	Publish(evtType string, payload EventPayload) error
	Close()
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, EventPayload) error { return nil }
func (NoopPublisher) Close()                             {}

// NATSPublisher publishes events to NATS under <base>.<event type>.
type NATSPublisher struct {
	conn *nats.Conn
	base string
}

// Connect dials the NATS server. An empty url yields a NoopPublisher.
func Connect(url, base string) (Publisher, error) {
	if url == "" {
		return NoopPublisher{}, nil
	}
	conn, err := nats.Connect(url, nats.Name("appraise"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, base: base}, nil
}

func (p *NATSPublisher) Publish(evtType string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return p.conn.Publish(p.base+"."+evtType, data)
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
