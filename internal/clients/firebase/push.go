package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"github.com/tazhate/eventtracker/internal/delivery"
	"github.com/tazhate/eventtracker/internal/domain"
)

const pushTitle = "Event reminder"

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushSender delivers reminders as FCM notifications; the destination is a
// device registration token.
type PushSender struct {
	client messagingClient
}

func NewPushSender(client messagingClient) *PushSender {
	return &PushSender{client: client}
}

func (s *PushSender) Send(ctx context.Context, payload domain.ReminderPayload) error {
	if payload.Destination == "" {
		return delivery.ErrNoDestination
	}

	message := &messaging.Message{
		Token: payload.Destination,
		Notification: &messaging.Notification{
			Title: pushTitle,
			Body:  payload.Message,
		},
		Data: map[string]string{"event_id": payload.EventID},
	}

	if _, err := s.client.Send(ctx, message); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
