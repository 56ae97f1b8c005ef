package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix events are published under.
const DefaultSubjectPrefix = "clearinghouse.events"

// NATSPublisher publishes events to NATS on <prefix>.<event type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("clearing-house"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func Subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

func (p *NATSPublisher) Notify(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("nats marshal event failed", "type", e.Type, "err", err)
		return
	}
	subject := Subject(p.prefix, e.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Error("nats publish failed", "subject", subject, "err", err)
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
