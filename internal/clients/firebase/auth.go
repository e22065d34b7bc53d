package firebase

import (
	"context"
	"fmt"

	fbauth "firebase.google.com/go/v4/auth"

	"github.com/tazhate/eventtracker/internal/auth"
)

type authClient interface {
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// ProfileStore keeps the local profile row every Firebase user gets.
type ProfileStore interface {
	EnsureUser(ctx context.Context, id, login string) error
}

// Auth is an auth.Provider backed by Firebase Authentication. Clients sign in
// with the Firebase SDK and present the resulting ID token.
type Auth struct {
	client   authClient
	profiles ProfileStore
}

func NewAuth(client authClient, profiles ProfileStore) *Auth {
	return &Auth{client: client, profiles: profiles}
}

func (a *Auth) CreateAccount(ctx context.Context, login, password string) (string, error) {
	if login == "" || password == "" {
		return "", auth.ErrEmptyCredentials
	}

	user, err := a.client.CreateUser(ctx, (&fbauth.UserToCreate{}).Email(login).Password(password))
	if err != nil {
		if fbauth.IsEmailAlreadyExists(err) {
			return "", auth.ErrUserExists
		}
		return "", fmt.Errorf("create firebase user: %w", err)
	}

	if err := a.ensureProfile(ctx, user.UID, login); err != nil {
		return "", err
	}
	return user.UID, nil
}

func (a *Auth) SignIn(context.Context, string, string) (string, error) {
	return "", auth.ErrUnsupported
}

func (a *Auth) Verify(ctx context.Context, idToken string) (string, error) {
	token, err := a.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}

	login, _ := token.Claims["email"].(string)
	if login == "" {
		login = token.UID
	}
	if err := a.ensureProfile(ctx, token.UID, login); err != nil {
		return "", err
	}
	return token.UID, nil
}

func (a *Auth) ensureProfile(ctx context.Context, uid, login string) error {
	if a.profiles == nil {
		return nil
	}
	if err := a.profiles.EnsureUser(ctx, uid, login); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}
