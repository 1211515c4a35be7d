package notifier

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

// Message is a rendered mail ready for delivery
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// SMTPSender delivers through an SMTP relay using PLAIN auth when
// credentials are set.
type SMTPSender struct {
	Addr     string
	Username string
	Password string
}

// Send implements Sender.
func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid smtp address")
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	if err := smtp.SendMail(s.Addr, auth, msg.From, []string{msg.To}, encode(msg)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver mail")
	}
	return nil
}

func encode(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", header(msg.From))
	fmt.Fprintf(&b, "To: %s\r\n", header(msg.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", header(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

func header(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// LogSender writes messages to a logger instead of delivering them. Bodies
// are not logged since they carry codes and passwords.
type LogSender struct {
	Logger accounts.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := accounts.ResolveLogger("accounts.notifier.log_sender", nil, s.Logger)
	logger.WithContext(ctx).Info("mail rendered",
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.Body),
	)
	return nil
}
