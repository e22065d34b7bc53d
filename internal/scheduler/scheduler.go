package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/eventtracker/internal/delivery"
	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/reminder"
)

const sendTimeout = 30 * time.Second

// AlarmStore persists registrations so they survive a restart.
type AlarmStore interface {
	SaveAlarm(ctx context.Context, a *domain.Alarm) error
	DeleteAlarm(ctx context.Context, key string) error
	ListAlarms(ctx context.Context) ([]*domain.Alarm, error)
}

// Recipients answers, at fire time, whether a user still accepts reminders
// and where they currently go.
type Recipients interface {
	ReminderPermissionGranted(ctx context.Context, userID string) bool
	ReminderOwner(ctx context.Context, userID string) reminder.Owner
}

// once fires a single time at the given instant.
type once time.Time

func (o once) Next(t time.Time) time.Time {
	at := time.Time(o)
	if at.After(t) {
		return at
	}
	return time.Time{}
}

type entry struct {
	id    cron.EntryID
	alarm *domain.Alarm
}

// Scheduler is a one-shot alarm facility keyed by string. Registering a key
// that is already armed replaces it.
type Scheduler struct {
	cron       *cron.Cron
	store      AlarmStore
	sender     delivery.Sender
	recipients Recipients
	log        *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func New(store AlarmStore, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		store:   store,
		log:     logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) SetSender(sender delivery.Sender) {
	s.sender = sender
}

// SetRecipients makes every fired alarm re-check its user's permission and
// destination before delivery.
func (s *Scheduler) SetRecipients(r Recipients) {
	s.recipients = r
}

// Start restores persisted alarms, runs the timer loop and blocks until ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		return fmt.Errorf("restore alarms: %w", err)
	}

	s.cron.Start()
	s.log.Info("scheduler started", "armed", s.Len())

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// Restore arms every stored alarm whose fire time is still ahead and drops
// the rest. Reminders are never delivered late.
func (s *Scheduler) Restore(ctx context.Context) error {
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	for _, a := range alarms {
		if !a.FireAt.After(now) {
			s.log.Info("dropping stale alarm", "key", a.Key, "fire_at", a.FireAt)
			if err := s.store.DeleteAlarm(ctx, a.Key); err != nil {
				s.log.Warn("delete stale alarm", "key", a.Key, "error", err)
			}
			continue
		}
		s.arm(a)
	}
	return nil
}

// Register persists and arms a one-shot alarm under key.
func (s *Scheduler) Register(ctx context.Context, key string, fireAt time.Time, payload domain.ReminderPayload) error {
	if !fireAt.After(s.now()) {
		return fmt.Errorf("alarm %s: fire time %s is not in the future", key, fireAt.Format(time.RFC3339))
	}

	a := &domain.Alarm{
		Key:       key,
		FireAt:    fireAt,
		Payload:   payload,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveAlarm(ctx, a); err != nil {
		return err
	}

	s.arm(a)
	s.log.Debug("alarm armed", "key", key, "fire_at", fireAt)
	return nil
}

// CancelIfExists disarms and forgets key. An unknown key is not an error.
func (s *Scheduler) CancelIfExists(ctx context.Context, key string) error {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, key)
	}
	s.mu.Unlock()

	return s.store.DeleteAlarm(ctx, key)
}

// Len returns the number of armed alarms.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) arm(a *domain.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[a.Key]; ok {
		s.cron.Remove(old.id)
	}

	e := &entry{alarm: a}
	e.id = s.cron.Schedule(once(a.FireAt), cron.FuncJob(func() { s.fire(e) }))
	s.entries[a.Key] = e
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	current, ok := s.entries[e.alarm.Key]
	if !ok || current != e {
		// cancelled or replaced after the timer went off
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.alarm.Key)
	s.cron.Remove(e.id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := s.store.DeleteAlarm(ctx, e.alarm.Key); err != nil {
		s.log.Warn("delete fired alarm", "key", e.alarm.Key, "error", err)
	}

	if s.sender == nil {
		s.log.Warn("alarm fired without a sender", "key", e.alarm.Key)
		return
	}

	payload, ok := s.resolve(ctx, e.alarm.Payload)
	if !ok {
		s.log.Info("reminder dropped: permission revoked", "key", e.alarm.Key, "user_id", payload.UserID)
		return
	}
	if err := s.sender.Send(ctx, payload); err != nil {
		s.log.Error("deliver reminder", "key", e.alarm.Key, "event_id", e.alarm.Payload.EventID, "error", err)
		return
	}
	s.log.Info("reminder delivered", "key", e.alarm.Key, "event_id", e.alarm.Payload.EventID)
}

// resolve refreshes the destination from the user's current contact details.
// It reports false when the user no longer grants permission.
func (s *Scheduler) resolve(ctx context.Context, payload domain.ReminderPayload) (domain.ReminderPayload, bool) {
	if s.recipients == nil || payload.UserID == "" {
		return payload, true
	}
	if !s.recipients.ReminderPermissionGranted(ctx, payload.UserID) {
		return payload, false
	}
	if owner := s.recipients.ReminderOwner(ctx, payload.UserID); owner.Destination != "" {
		payload.Destination = owner.Destination
	}
	return payload, true
}
