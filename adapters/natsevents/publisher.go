// Package natsevents forwards account events to NATS subjects so other
// services can react to registrations, activations and credential changes.
package natsevents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event name to build the subject
const DefaultSubjectPrefix = "accounts"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Payload is the wire shape of a forwarded event. Code values and
// passwords are never included.
type Payload struct {
	Event      string    `json:"event"`
	AccountID  uuid.UUID `json:"account_id"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	CodeID     string    `json:"code_id,omitempty"`
	Purpose    string    `json:"purpose,omitempty"`
	NewEmail   string    `json:"new_email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Option configures a Publisher
type Option func(*Publisher)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = strings.Trim(prefix, ".")
	}
}

// WithLogger overrides the logger.
func WithLogger(logger accounts.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Publisher is an accounts.EventSink that writes events to NATS
type Publisher struct {
	conn   Conn
	prefix string
	logger accounts.Logger
}

// NewPublisher wraps conn.
func NewPublisher(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: accounts.ResolveLogger("accounts.natsevents", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(name accounts.EventName) string {
	if p.prefix == "" {
		return string(name)
	}
	return p.prefix + "." + string(name)
}

// Publish implements accounts.EventSink.
func (p *Publisher) Publish(ctx context.Context, event accounts.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p.conn == nil {
		return goerrors.New("nats connection is not configured", goerrors.CategoryInternal)
	}

	data, err := json.Marshal(NewPayload(event))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode event")
	}

	subject := p.Subject(event.Name)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithContext(ctx).Error("failed to publish event", "subject", subject, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to publish event").
			WithMetadata(map[string]any{"subject": subject})
	}

	p.logger.WithContext(ctx).Debug("event published", "subject", subject)
	return nil
}

// NewPayload builds the redacted wire payload for event.
func NewPayload(event accounts.Event) Payload {
	payload := Payload{
		Event:      string(event.Name),
		NewEmail:   event.NewEmail,
		OccurredAt: event.OccurredAt,
	}
	if event.Account != nil {
		payload.AccountID = event.Account.ID
		payload.Email = event.Account.Email
		payload.Status = string(event.Account.Status)
	}
	if event.Code != nil {
		payload.CodeID = event.Code.ID.String()
		payload.Purpose = string(event.Code.Purpose)
	}
	return payload
}

// Connect opens a NATS connection with reconnect handling logged through
// logger.
func Connect(url string, logger accounts.Logger, extra ...nats.Option) (*nats.Conn, error) {
	logger = accounts.ResolveLogger("accounts.natsevents", nil, logger)

	opts := []nats.Option{
		nats.Name("go-accounts"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	opts = append(opts, extra...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to nats").
			WithMetadata(map[string]any{"url": url})
	}
	return conn, nil
}
