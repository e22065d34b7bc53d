package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/reminder"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("user must be logged in")
	ErrTitleRequired = errors.New("title is required")
)

// EventStore is the persistence backend for events. Missing rows are reported
// as (nil, nil) by GetEvent and false by UpdateEvent.
type EventStore interface {
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, userID, id string) (*domain.Event, error)
	UpdateEvent(ctx context.Context, e *domain.Event) (bool, error)
	DeleteEvent(ctx context.Context, userID, id string) error
	ListUpcomingEvents(ctx context.Context, userID string, from time.Time) ([]*domain.Event, error)
}

// Reminders is satisfied by *reminder.Manager.
type Reminders interface {
	Schedule(ctx context.Context, owner reminder.Owner, eventID, title string, start time.Time)
	Cancel(ctx context.Context, eventID string)
}

// OwnerResolver tells where a user's reminders go.
type OwnerResolver interface {
	ReminderOwner(ctx context.Context, userID string) reminder.Owner
}

// CalendarMirror copies events to an external calendar.
type CalendarMirror interface {
	PutEvent(ctx context.Context, e *domain.Event) error
	RemoveEvent(ctx context.Context, eventID string) error
}

type EventService struct {
	store     EventStore
	reminders Reminders
	owners    OwnerResolver
	mirror    CalendarMirror
	worker    *Worker
	timezone  *time.Location
	now       func() time.Time
	log       *slog.Logger
}

func NewEventService(store EventStore, reminders Reminders, owners OwnerResolver, worker *Worker, tz *time.Location, logger *slog.Logger) *EventService {
	if tz == nil {
		tz = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventService{
		store:     store,
		reminders: reminders,
		owners:    owners,
		worker:    worker,
		timezone:  tz,
		now:       time.Now,
		log:       logger,
	}
}

// SetMirror enables best-effort copying of events to an external calendar.
func (s *EventService) SetMirror(m CalendarMirror) {
	s.mirror = m
}

func (s *EventService) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns one of the user's events.
func (s *EventService) Get(ctx context.Context, userID, id string) (*domain.Event, error) {
	if userID == "" {
		return nil, ErrAccessDenied
	}
	e, err := s.store.GetEvent(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Upcoming returns the user's events that have not started yet, soonest first.
func (s *EventService) Upcoming(ctx context.Context, userID string) ([]*domain.Event, error) {
	if userID == "" {
		return nil, ErrAccessDenied
	}
	events, err := s.store.ListUpcomingEvents(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Add stores a new event and schedules its reminder.
func (s *EventService) Add(ctx context.Context, e *domain.Event) (*domain.Event, error) {
	if err := s.prepare(e); err != nil {
		return nil, err
	}

	err := s.worker.Do(ctx, func(ctx context.Context) error {
		if err := s.store.CreateEvent(ctx, e); err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		s.schedule(ctx, e)
		s.mirrorPut(ctx, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Update rewrites an event. Its reminder is cancelled and scheduled again for
// the new start time.
func (s *EventService) Update(ctx context.Context, e *domain.Event) (*domain.Event, error) {
	if err := s.prepare(e); err != nil {
		return nil, err
	}

	err := s.worker.Do(ctx, func(ctx context.Context) error {
		ok, err := s.store.UpdateEvent(ctx, e)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		s.reminders.Cancel(ctx, e.ID)
		s.schedule(ctx, e)
		s.mirrorPut(ctx, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes an event and cancels its reminder.
func (s *EventService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrAccessDenied
	}

	return s.worker.Do(ctx, func(ctx context.Context) error {
		e, err := s.store.GetEvent(ctx, userID, id)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if e == nil {
			return ErrNotFound
		}
		if err := s.store.DeleteEvent(ctx, userID, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		s.reminders.Cancel(ctx, id)
		if s.mirror != nil {
			if err := s.mirror.RemoveEvent(ctx, id); err != nil {
				s.log.Warn("remove event from calendar", "event_id", id, "error", err)
			}
		}
		return nil
	})
}

func (s *EventService) prepare(e *domain.Event) error {
	if e.UserID == "" {
		return ErrAccessDenied
	}
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return ErrTitleRequired
	}
	if e.Color == 0 {
		e.Color = domain.DefaultColor
	}
	return nil
}

func (s *EventService) schedule(ctx context.Context, e *domain.Event) {
	owner := reminder.Owner{UserID: e.UserID}
	if s.owners != nil {
		owner = s.owners.ReminderOwner(ctx, e.UserID)
	}
	s.reminders.Schedule(ctx, owner, e.ID, e.Title, e.Time)
}

func (s *EventService) mirrorPut(ctx context.Context, e *domain.Event) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.PutEvent(ctx, e); err != nil {
		// the event itself is stored; the calendar copy catches up on the next edit
		s.log.Warn("sync event to calendar", "event_id", e.ID, "error", err)
	}
}

// FormatEventList formats events for chat display.
func (s *EventService) FormatEventList(events []*domain.Event) string {
	if len(events) == 0 {
		return "No upcoming events."
	}

	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("• %s - %s", e.FormatTime(s.timezone), e.Title))
		if e.Description != "" {
			sb.WriteString(fmt.Sprintf("\n  %s", e.Description))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
