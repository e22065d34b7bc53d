package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/storage"
)

// AccountStore persists local accounts.
type AccountStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByLogin(ctx context.Context, login string) (*domain.User, error)
}

// Local keeps accounts in the application database. Logins are
// case-insensitive.
type Local struct {
	store  AccountStore
	tokens *Tokens
	cost   int
}

func NewLocal(store AccountStore, tokens *Tokens) *Local {
	return &Local{store: store, tokens: tokens, cost: bcrypt.DefaultCost}
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func (l *Local) CreateAccount(ctx context.Context, login, password string) (string, error) {
	login = normalizeLogin(login)
	if login == "" || password == "" {
		return "", ErrEmptyCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Login:        login,
		PasswordHash: string(hash),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("create user: %w", err)
	}
	return u.ID, nil
}

func (l *Local) SignIn(ctx context.Context, login, password string) (string, error) {
	login = normalizeLogin(login)
	if login == "" || password == "" {
		return "", ErrEmptyCredentials
	}

	u, err := l.store.GetUserByLogin(ctx, login)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	return l.tokens.Issue(u.ID)
}

func (l *Local) Verify(_ context.Context, token string) (string, error) {
	return l.tokens.Parse(token)
}
