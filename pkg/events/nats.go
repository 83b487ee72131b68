package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

// NATSPublisher publishes events on "<subject>.<action>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("events: nats url is required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "docs.submissions"
	}
	conn, err := nats.Connect(url,
		nats.Name("docs-events"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt domain.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := encode(evt)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject+"."+evt.Action, data); err != nil {
		return fmt.Errorf("publish event to nats: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
