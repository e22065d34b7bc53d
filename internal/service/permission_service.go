package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tazhate/eventtracker/config"
	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/reminder"
)

// UserStore is the subset of user persistence the services need.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByTelegramChatID(ctx context.Context, chatID int64) (*domain.User, error)
	EnsureUser(ctx context.Context, id, login string) error
	UpdateUserContact(ctx context.Context, u *domain.User) error
	SetSMSEnabled(ctx context.Context, userID string, enabled bool) error
}

// PermissionStatus drives whether a client shows the reminder permission prompt.
type PermissionStatus struct {
	Granted     bool `json:"granted"`
	Decided     bool `json:"decided"`
	NeedsPrompt bool `json:"needs_prompt"`
}

type PermissionService struct {
	users     UserStore
	ledger    *reminder.Ledger
	transport string
	fallback  string
	log       *slog.Logger
}

// NewPermissionService creates the service. transport selects how reminder
// destinations are resolved; fallback is the SMS number used when a user has
// no phone on file.
func NewPermissionService(users UserStore, ledger *reminder.Ledger, transport, fallback string, logger *slog.Logger) *PermissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionService{
		users:     users,
		ledger:    ledger,
		transport: transport,
		fallback:  fallback,
		log:       logger,
	}
}

func (s *PermissionService) Status(ctx context.Context, userID string) (PermissionStatus, error) {
	if userID == "" {
		return PermissionStatus{}, ErrAccessDenied
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return PermissionStatus{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return PermissionStatus{}, ErrNotFound
	}

	st := PermissionStatus{
		Granted: u.SMSEnabled,
		Decided: s.ledger.HasDecided(ctx, userID),
	}
	st.NeedsPrompt = !st.Granted && !st.Decided
	return st, nil
}

// Decide records the user's answer to the permission prompt. Either answer
// counts as a decision, so the prompt is not shown again.
func (s *PermissionService) Decide(ctx context.Context, userID string, granted bool) (PermissionStatus, error) {
	if userID == "" {
		return PermissionStatus{}, ErrAccessDenied
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return PermissionStatus{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return PermissionStatus{}, ErrNotFound
	}

	if err := s.users.SetSMSEnabled(ctx, userID, granted); err != nil {
		return PermissionStatus{}, fmt.Errorf("set permission: %w", err)
	}
	if err := s.ledger.SetDecisionMade(ctx, userID, true); err != nil {
		return PermissionStatus{}, fmt.Errorf("record decision: %w", err)
	}
	s.log.Info("reminder permission decided", "user_id", userID, "granted", granted)

	return PermissionStatus{Granted: granted, Decided: true}, nil
}

// ReminderPermissionGranted implements reminder.Permissions. Lookup failures
// count as not granted.
func (s *PermissionService) ReminderPermissionGranted(ctx context.Context, userID string) bool {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		s.log.Warn("permission lookup", "user_id", userID, "error", err)
		return false
	}
	return u != nil && u.SMSEnabled
}

// ReminderOwner resolves where userID's reminders are delivered for the
// configured transport. An empty destination means the user cannot be reached.
func (s *PermissionService) ReminderOwner(ctx context.Context, userID string) reminder.Owner {
	owner := reminder.Owner{UserID: userID}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		s.log.Warn("owner lookup", "user_id", userID, "error", err)
	}

	switch s.transport {
	case config.TransportTelegram:
		if u != nil && u.TelegramChatID != 0 {
			owner.Destination = strconv.FormatInt(u.TelegramChatID, 10)
		}
	case config.TransportPush:
		if u != nil {
			owner.Destination = u.DeviceToken
		}
	default:
		owner.Destination = s.fallback
		if u != nil && u.Phone != "" {
			owner.Destination = u.Phone
		}
	}
	return owner
}
