package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/storage"
)

// LinkCodeTTL is how long a Telegram link code stays valid.
const LinkCodeTTL = 10 * time.Minute

var (
	ErrLinkCodeInvalid = errors.New("link code is invalid or expired")
	ErrChatTaken       = errors.New("chat is linked to another account")
)

type linkCode struct {
	userID  string
	expires time.Time
}

type UserService struct {
	users UserStore
	now   func() time.Time

	mu    sync.Mutex
	codes map[string]linkCode
}

func NewUserService(users UserStore) *UserService {
	return &UserService{
		users: users,
		now:   time.Now,
		codes: make(map[string]linkCode),
	}
}

// Profile returns the user's profile row.
func (s *UserService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, ErrAccessDenied
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// EnsureProfile creates a profile row for an externally authenticated user
// and returns it.
func (s *UserService) EnsureProfile(ctx context.Context, userID, login string) (*domain.User, error) {
	if userID == "" {
		return nil, ErrAccessDenied
	}
	if login == "" {
		login = userID
	}
	if err := s.users.EnsureUser(ctx, userID, login); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return s.Profile(ctx, userID)
}

// ContactUpdate carries the delivery fields a user may change. Nil fields are
// left as they are. A chat can only be linked from inside it, with a link
// code; here it can only be unlinked.
type ContactUpdate struct {
	Phone          *string
	DeviceToken    *string
	UnlinkTelegram bool
}

func (s *UserService) UpdateContact(ctx context.Context, userID string, upd ContactUpdate) (*domain.User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.Phone != nil {
		u.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.DeviceToken != nil {
		u.DeviceToken = strings.TrimSpace(*upd.DeviceToken)
	}
	if upd.UnlinkTelegram {
		u.TelegramChatID = 0
	}

	if err := s.users.UpdateUserContact(ctx, u); err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return u, nil
}

// CreateLinkCode issues a single-use code the user sends to the bot as
// "/start <code>". A new code replaces the user's previous one.
func (s *UserService) CreateLinkCode(ctx context.Context, userID string) (string, time.Time, error) {
	if _, err := s.Profile(ctx, userID); err != nil {
		return "", time.Time{}, err
	}

	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	expires := s.now().Add(LinkCodeTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for c, lc := range s.codes {
		if lc.userID == userID || !s.now().Before(lc.expires) {
			delete(s.codes, c)
		}
	}
	s.codes[code] = linkCode{userID: userID, expires: expires}
	return code, expires, nil
}

// LinkTelegram consumes code and links chatID to the account that issued it.
func (s *UserService) LinkTelegram(ctx context.Context, code string, chatID int64) (*domain.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	lc, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok || !s.now().Before(lc.expires) || chatID == 0 {
		return nil, ErrLinkCodeInvalid
	}

	u, err := s.Profile(ctx, lc.userID)
	if err != nil {
		return nil, err
	}
	u.TelegramChatID = chatID
	err = s.users.UpdateUserContact(ctx, u)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, ErrChatTaken
	}
	if err != nil {
		return nil, fmt.Errorf("link chat: %w", err)
	}
	return u, nil
}

// ByTelegramChat finds the user linked to a chat; nil when none is.
func (s *UserService) ByTelegramChat(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := s.users.GetUserByTelegramChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get user by chat: %w", err)
	}
	return u, nil
}
