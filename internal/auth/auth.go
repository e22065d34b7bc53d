// Package auth creates accounts, signs users in and verifies session tokens.
package auth

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUserExists       = errors.New("user already exists")
	ErrInvalidToken     = errors.New("invalid token")
	ErrEmptyCredentials = errors.New("login and password are required")
	ErrUnsupported      = errors.New("operation not supported by this provider")
)

// Provider is an account backend. Tokens returned by SignIn are accepted by
// Verify, which yields the user id they were issued for.
type Provider interface {
	CreateAccount(ctx context.Context, login, password string) (string, error)
	SignIn(ctx context.Context, login, password string) (string, error)
	Verify(ctx context.Context, token string) (string, error)
}
