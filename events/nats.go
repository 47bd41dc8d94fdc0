package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix is prepended to the event kind to form the NATS subject,
// e.g. auction.events.bid_placed. Subscribe to auction.events.* for all.
const SubjectPrefix = "auction.events."

// Subject returns the subject an event of kind is published on.
func Subject(kind Kind) string {
	return SubjectPrefix + string(kind)
}

// NATSPublisher publishes JSON-encoded events to NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("auctiond"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	p.logger.Debug("event published",
		zap.String("subject", Subject(ev.Kind)),
		zap.String("auction", string(ev.Auction)),
		zap.String("event_id", ev.ID))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
