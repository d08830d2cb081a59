package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

// Email delivers over SMTP with STARTTLS. A single recipient is addressed
// directly; several are blind-copied so subscribers don't see each other.
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	retry    retryPolicy
}

func NewEmail(host string, port int, username, password, from string) *Email {
	if from == "" {
		from = username
	}
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		retry:    defaultRetry,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, msg Message, to model.Recipients) error {
	if len(to.Emails) == 0 {
		return nil
	}

	m, err := e.message(msg, to.Emails)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(e.host,
		mail.WithPort(e.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.username),
		mail.WithPassword(e.password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	return e.retry.do(ctx, func() error {
		if err := client.DialAndSendWithContext(ctx, m); err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	})
}

func (e *Email) message(msg Message, recipients []string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.from, err)
	}
	if len(recipients) == 1 {
		if err := m.To(recipients[0]); err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
	} else {
		if err := m.To(e.from); err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", e.from, err)
		}
		added := 0
		for _, rcpt := range recipients {
			if err := m.AddBcc(rcpt); err != nil {
				slog.Warn("skipping invalid email recipient", "recipient", rcpt, "error", err)
				continue
			}
			added++
		}
		if added == 0 {
			return nil, errors.New("invalid recipient: no parseable address")
		}
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
