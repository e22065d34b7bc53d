// Package firebase binds accounts, event storage and push delivery to a
// Firebase project.
package firebase

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

type App struct {
	app *firebase.App
}

// New initializes the Firebase app. An empty credentialsPath falls back to
// application default credentials.
func New(ctx context.Context, projectID, credentialsPath string) (*App, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return &App{app: app}, nil
}

func (a *App) Auth(ctx context.Context, profiles ProfileStore) (*Auth, error) {
	client, err := a.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get auth client: %w", err)
	}
	return NewAuth(client, profiles), nil
}

// Events returns the Firestore-backed event store. Close it on shutdown.
func (a *App) Events(ctx context.Context) (*EventStore, error) {
	client, err := a.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firestore client: %w", err)
	}
	return NewEventStore(client), nil
}

func (a *App) Push(ctx context.Context) (*PushSender, error) {
	client, err := a.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return NewPushSender(client), nil
}
