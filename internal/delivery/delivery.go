// Package delivery hands a fired reminder to whatever transport reaches the user.
package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tazhate/eventtracker/internal/domain"
)

// ErrNoDestination is returned when a payload has nowhere to go.
var ErrNoDestination = errors.New("reminder has no destination")

// Sender delivers a reminder. It is called once per fired alarm; a returned
// error is logged by the caller and the reminder is dropped.
type Sender interface {
	Send(ctx context.Context, payload domain.ReminderPayload) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, payload domain.ReminderPayload) error

func (f SenderFunc) Send(ctx context.Context, payload domain.ReminderPayload) error {
	return f(ctx, payload)
}

// SMS simulates a text message gateway by writing the message to the log.
type SMS struct {
	log *slog.Logger
}

func NewSMS(logger *slog.Logger) *SMS {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMS{log: logger}
}

func (s *SMS) Send(ctx context.Context, payload domain.ReminderPayload) error {
	if payload.Destination == "" {
		return ErrNoDestination
	}
	s.log.InfoContext(ctx, "sms sent",
		"destination", payload.Destination,
		"event_id", payload.EventID,
		"message", payload.Message,
	)
	return nil
}
