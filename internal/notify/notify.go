// Package notify delivers deal notifications to chat services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotConfigured is returned by a notifier that has nowhere to deliver to.
var ErrNotConfigured = errors.New("notifier not configured")

// Field is one line of a notification, usually one store's offer.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is the payload handed to every notifier.
type Message struct {
	Title       string
	Description string
	URL         string
	Image       string
	Fields      []Field
	ChatID      int64  // Telegram chat override; zero means the default chat
	Email       string // email recipient override; empty means the default recipients
}

// Notifier sends a message. A nil error means the message was delivered.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Multi fans a message out to several notifiers. Delivery counts as successful when
// at least one of them accepts the message.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	if len(m) == 0 {
		return ErrNotConfigured
	}
	var errs []error
	delivered := 0
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		if len(errs) > 0 {
			slog.Warn("notification partially delivered", "delivered", delivered, "error", errors.Join(errs...))
		}
		return nil
	}
	return fmt.Errorf("no notifier delivered the message: %w", errors.Join(errs...))
}

// Log writes notifications to the process log. Used when no chat service is configured.
type Log struct{}

func (Log) Send(ctx context.Context, msg Message) error {
	attrs := []any{"title", msg.Title, "description", msg.Description}
	for _, f := range msg.Fields {
		attrs = append(attrs, f.Name, f.Value)
	}
	slog.Info("notification", attrs...)
	return nil
}
