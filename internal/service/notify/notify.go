// Package notify delivers slot announcements to subscribers and operator
// alerts. Every channel owns its retry policy; Dispatcher never returns
// delivery errors to the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

// Message is a notification addressed to every channel at once.
type Message struct {
	Subject string
	Body    string
}

// Channel delivers a message to the recipients it knows how to reach.
// It must return nil without doing anything when it has no recipients.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message, to model.Recipients) error
}

type alerter interface {
	Alert(ctx context.Context, text string) error
}

type Dispatcher struct {
	channels []Channel
	alerter  alerter
}

// NewDispatcher fans out to channels. alerter may be nil, in which case
// operator alerts are only logged.
func NewDispatcher(alerter alerter, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, alerter: alerter}
}

// Notify sends msg on every channel. A failing channel does not stop the
// others.
func (d *Dispatcher) Notify(ctx context.Context, msg Message, to model.Recipients) {
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg, to); err != nil {
			slog.Error("notification channel failed", "channel", ch.Name(), "error", err)
		}
	}
}

// Alert sends an operator-facing message.
func (d *Dispatcher) Alert(ctx context.Context, text string) {
	if d.alerter == nil {
		slog.Warn("operator alert (no alert channel configured)", "text", text)
		return
	}
	if err := d.alerter.Alert(ctx, text); err != nil {
		slog.Error("operator alert failed", "error", err)
	}
}
