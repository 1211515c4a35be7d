// Package notifier renders account mails from events and delivers them
// through a Sender. Register a Notifier on an accounts.Dispatcher with
// Notifier.Register.
package notifier

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultRetryDelay is the initial backoff between delivery attempts
const DefaultRetryDelay = time.Second

type compiled struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// Option configures a Notifier
type Option func(*Notifier)

// WithFrom sets the sender address.
func WithFrom(from string) Option {
	return func(n *Notifier) {
		n.from = from
	}
}

// WithBaseURL sets the URL confirmation links are built from.
func WithBaseURL(base string) Option {
	return func(n *Notifier) {
		n.baseURL = strings.TrimRight(base, "/")
	}
}

// WithTemplates overrides or adds templates per event.
func WithTemplates(templates map[accounts.EventName]Template) Option {
	return func(n *Notifier) {
		for name, tpl := range templates {
			n.sources[name] = tpl
		}
	}
}

// WithRetries sets how many delivery attempts are made per mail.
func WithRetries(attempts uint, delay time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		if delay >= 0 {
			n.delay = delay
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger accounts.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Notifier turns account events into mails
type Notifier struct {
	sender    Sender
	from      string
	baseURL   string
	attempts  uint
	delay     time.Duration
	logger    accounts.Logger
	sources   map[accounts.EventName]Template
	templates map[accounts.EventName]compiled
}

// New compiles the templates and returns a Notifier.
func New(sender Sender, opts ...Option) (*Notifier, error) {
	if sender == nil {
		return nil, goerrors.New("notifier sender is required", goerrors.CategoryBadInput)
	}

	n := &Notifier{
		sender:    sender,
		attempts:  3,
		delay:     DefaultRetryDelay,
		logger:    accounts.ResolveLogger("accounts.notifier", nil, nil),
		sources:   DefaultTemplates(),
		templates: map[accounts.EventName]compiled{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	for name, src := range n.sources {
		subject, err := pongo2.FromString(src.Subject)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mail subject template").
				WithMetadata(map[string]any{"event": string(name)})
		}
		body, err := pongo2.FromString(src.Body)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mail body template").
				WithMetadata(map[string]any{"event": string(name)})
		}
		n.templates[name] = compiled{subject: subject, body: body}
	}

	return n, nil
}

// Events lists the events the notifier sends mails for
func (n *Notifier) Events() []accounts.EventName {
	names := make([]accounts.EventName, 0, len(n.templates))
	for name := range n.templates {
		names = append(names, name)
	}
	return names
}

// Register subscribes the notifier to every event it has a template for.
func (n *Notifier) Register(d *accounts.Dispatcher) {
	d.Subscribe(n, n.Events()...)
}

// Publish implements accounts.EventSink. Events without a template are
// ignored.
func (n *Notifier) Publish(ctx context.Context, event accounts.Event) error {
	msg, ok, err := n.Render(event)
	if err != nil || !ok {
		return err
	}

	return retry.Do(
		func() error {
			return n.sender.Send(ctx, msg)
		},
		retry.Attempts(n.attempts),
		retry.Delay(n.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.WithContext(ctx).Warn("mail delivery retry",
				"event", string(event.Name),
				"attempt", attempt+1,
				"error", err,
			)
		}),
		retry.Context(ctx),
	)
}

// Render builds the message for event. ok is false when no template exists
// for the event.
func (n *Notifier) Render(event accounts.Event) (Message, bool, error) {
	tpl, found := n.templates[event.Name]
	if !found {
		return Message{}, false, nil
	}

	if event.Account == nil {
		return Message{}, false, goerrors.New("event has no account", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"event": string(event.Name)})
	}

	data := pongo2.Context{
		"account":      event.Account,
		"code":         event.Code,
		"new_email":    event.NewEmail,
		"new_password": event.NewPassword,
		"link":         n.link(event),
	}

	subject, err := tpl.subject.Execute(data)
	if err != nil {
		return Message{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail subject")
	}

	body, err := tpl.body.Execute(data)
	if err != nil {
		return Message{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail body")
	}

	return Message{
		From:    n.from,
		To:      recipient(event),
		Subject: strings.TrimSpace(subject),
		Body:    body,
	}, true, nil
}

// recipient is the new address for change_email, so possession of it is
// what gets proven.
func recipient(event accounts.Event) string {
	if event.Name == accounts.EventChangeEmail && event.NewEmail != "" {
		return event.NewEmail
	}
	return event.Account.Email
}

func (n *Notifier) link(event accounts.Event) string {
	path, ok := linkPaths[event.Name]
	if !ok || event.Code == nil {
		return ""
	}
	q := url.Values{}
	q.Set("checker", event.Code.ID.String())
	q.Set("code", event.Code.Code)
	return n.baseURL + path + "?" + q.Encode()
}
