package domain

import "time"

// ReminderPayload is what an alarm carries to the delivery side.
// UserID lets the delivery side re-check permission and the current
// destination when the alarm fires.
type ReminderPayload struct {
	EventID     string `json:"event_id"`
	UserID      string `json:"user_id"`
	Destination string `json:"destination"`
	Message     string `json:"message"`
}

// Alarm is a one-shot timer registration addressed by Key.
type Alarm struct {
	Key       string
	FireAt    time.Time
	Payload   ReminderPayload
	CreatedAt time.Time
}
