// Package mailer sends transactional email through Brevo.
package mailer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Sender identifies the From address.
type Sender struct {
	Email string
	Name  string
}

// Brevo sends mail through the Brevo transactional API.
type Brevo struct {
	client *httputil.Client
	sender Sender
	log    *logger.Logger
}

// NewBrevo constructs a Brevo mailer. baseURL defaults to the public API.
func NewBrevo(baseURL, apiKey string, sender Sender, log *logger.Logger) (*Brevo, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("brevo api key required")
	}
	if sender.Email == "" {
		return nil, fmt.Errorf("sender email required")
	}
	if baseURL == "" {
		baseURL = "https://api.brevo.com"
	}
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL:    baseURL,
		Timeout:    15 * time.Second,
		MaxRetries: -1,
		Decorate:   func(r *http.Request) { r.Header.Set("api-key", apiKey) },
	})
	return &Brevo{client: client, sender: sender, log: log}, nil
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

func (b *Brevo) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient required")
	}
	resp, err := b.client.Post(ctx, "/v3/smtp/email", brevoRequest{
		Sender:      brevoContact{Email: b.sender.Email, Name: b.sender.Name},
		To:          []brevoContact{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		if _, err := httputil.ReadResponse(resp); err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return fmt.Errorf("send email: unexpected status %d", resp.StatusCode)
	}
	resp.Body.Close()
	b.log.WithField("subject", msg.Subject).Debug("email sent")
	return nil
}

// Noop logs messages instead of sending them. It is used when no mail
// provider is configured.
type Noop struct {
	log *logger.Logger
}

// NewNoop constructs a logging no-op mailer.
func NewNoop(log *logger.Logger) *Noop {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &Noop{log: log}
}

func (n *Noop) Send(_ context.Context, msg Message) error {
	n.log.WithField("to", msg.To).WithField("subject", msg.Subject).Info("mail delivery disabled; message dropped")
	return nil
}
