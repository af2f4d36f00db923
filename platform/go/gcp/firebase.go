package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/zenGate-Global/permitdesk/platform/go/setups"
)

// NewApp creates a Firebase App for the configured project. Without a credentials
// file the SDK resolves application default credentials.
func NewApp(ctx context.Context, settings setups.FirebaseSettings) (*firebase.App, error) {
	var conf *firebase.Config
	if settings.ProjectID != "" {
		conf = &firebase.Config{ProjectID: settings.ProjectID}
	}

	var opts []option.ClientOption
	if settings.HasCredentialsFile() {
		opts = append(opts, option.WithCredentialsFile(settings.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// InitFirebaseAuth returns the Auth client used to verify manager ID tokens.
func InitFirebaseAuth(ctx context.Context, settings setups.FirebaseSettings) (*firebaseauth.Client, error) {
	app, err := NewApp(ctx, settings)
	if err != nil {
		return nil, err
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return client, nil
}
