// Package events announces completed fulfillments and verified payments to
// downstream consumers. Publishing is fire-and-forget: failures are logged and
// never change the outcome of the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/R3E-Network/imagebulk/pkg/logger"
)

const (
	TopicDownloadCompleted = "download.completed"
	TopicPaymentVerified   = "payment.verified"
)

// DownloadCompleted is published after a fulfillment has been billed.
type DownloadCompleted struct {
	AccountID  string    `json:"account_id"`
	Keyword    string    `json:"keyword"`
	ImageCount int       `json:"image_count"`
	Charged    int64     `json:"charged"`
	Balance    int64     `json:"balance"`
	Filename   string    `json:"filename"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PaymentVerified is published after a payment has been credited.
type PaymentVerified struct {
	AccountID    string    `json:"account_id"`
	OrderID      string    `json:"order_id"`
	PaymentID    string    `json:"payment_id"`
	Plan         string    `json:"plan"`
	CreditsAdded int64     `json:"credits_added"`
	TotalCredits int64     `json:"total_credits"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{})
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) {}

// NATSPublisher sends JSON events on core NATS subjects "<prefix>.<topic>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// Connect dials NATS and returns a publisher for the given subject prefix.
func Connect(url, prefix string, log *logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.NewDefault("events")
	}
	conn, err := nats.Connect(url,
		nats.Name("imagebulk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(conn, prefix, log), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, log *logger.Logger) *NATSPublisher {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the full subject for a topic.
func (p *NATSPublisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload interface{}) {
	subject := p.Subject(topic)
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("encode event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.ForContext(ctx).WithError(err).WithField("subject", subject).Warn("publish event")
		return
	}
	p.log.ForContext(ctx).WithField("subject", subject).Debug("event published")
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
