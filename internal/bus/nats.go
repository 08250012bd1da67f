package bus

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes broadcast payloads on <prefix>.<operator>.
type NATSPublisher struct {
	Conn   *nats.Conn
	Prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("alertd"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{Conn: conn, Prefix: prefix}, nil
}

func (p *NATSPublisher) Close() error {
	if p.Conn != nil {
		if err := p.Conn.Drain(); err != nil {
			p.Conn.Close()
			return err
		}
		p.Conn.Close()
	}
	return nil
}

// Publish sends the payload and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, operator string, payload []byte) error {
	if p.Conn == nil {
		return errors.New("nats connection not configured")
	}
	if err := p.Conn.Publish(Subject(p.Prefix, operator), payload); err != nil {
		return err
	}
	return p.Conn.FlushWithContext(ctx)
}

// Subject joins the prefix and operator into a NATS subject.
func Subject(prefix, operator string) string {
	if prefix == "" {
		return operator
	}
	return prefix + "." + operator
}
