// Package reminder decides when an event reminder is registered and keeps the
// per-user record of whether the reminder permission prompt was answered.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tazhate/eventtracker/internal/domain"
)

// LeadTime is how long before an event its reminder fires.
const LeadTime = 2 * time.Hour

const keyPrefix = "event-reminder:"

// Alarms is the one-shot timer facility reminders are registered with.
type Alarms interface {
	Register(ctx context.Context, key string, fireAt time.Time, payload domain.ReminderPayload) error
	CancelIfExists(ctx context.Context, key string) error
}

// Permissions answers whether a user allows reminders to be sent.
type Permissions interface {
	ReminderPermissionGranted(ctx context.Context, userID string) bool
}

// Owner identifies who a reminder is for and where it is delivered.
type Owner struct {
	UserID      string
	Destination string
}

// KeyFor derives the registration key of an event's reminder.
func KeyFor(eventID string) string {
	return keyPrefix + eventID
}

// Message renders the reminder text for an event starting at start.
func Message(title string, start time.Time, loc *time.Location) string {
	e := domain.Event{Title: title, Time: start}
	return fmt.Sprintf("Friendly Reminder: %s is starting at %s", title, e.FormatTime(loc))
}

type Manager struct {
	alarms      Alarms
	permissions Permissions
	location    *time.Location
	now         func() time.Time
	log         *slog.Logger
}

// NewManager creates a Manager. A nil alarms makes Schedule and Cancel no-ops.
func NewManager(alarms Alarms, permissions Permissions, loc *time.Location, logger *slog.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		alarms:      alarms,
		permissions: permissions,
		location:    loc,
		now:         time.Now,
		log:         logger,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Schedule registers a reminder LeadTime before start. Nothing is registered
// when that moment is not in the future or the owner has not granted
// permission.
func (m *Manager) Schedule(ctx context.Context, owner Owner, eventID, title string, start time.Time) {
	fireAt := start.Add(-LeadTime)

	if !fireAt.After(m.now()) {
		m.log.Debug("reminder skipped: fire time passed", "event_id", eventID, "fire_at", fireAt)
		return
	}
	if m.permissions == nil || !m.permissions.ReminderPermissionGranted(ctx, owner.UserID) {
		m.log.Debug("reminder skipped: permission not granted", "event_id", eventID, "user_id", owner.UserID)
		return
	}
	if m.alarms == nil {
		return
	}

	payload := domain.ReminderPayload{
		EventID:     eventID,
		UserID:      owner.UserID,
		Destination: owner.Destination,
		Message:     Message(title, start, m.location),
	}
	if err := m.alarms.Register(ctx, KeyFor(eventID), fireAt, payload); err != nil {
		m.log.Warn("register reminder", "event_id", eventID, "error", err)
		return
	}
	m.log.Info("reminder scheduled", "event_id", eventID, "fire_at", fireAt)
}

// Cancel removes the reminder registered for eventID, if any.
func (m *Manager) Cancel(ctx context.Context, eventID string) {
	if m.alarms == nil {
		return
	}
	if err := m.alarms.CancelIfExists(ctx, KeyFor(eventID)); err != nil {
		m.log.Warn("cancel reminder", "event_id", eventID, "error", err)
	}
}
