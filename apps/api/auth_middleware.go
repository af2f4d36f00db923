package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/permitdesk/platform/go/auth"
	"github.com/zenGate-Global/permitdesk/platform/go/gcp"
	"github.com/zenGate-Global/permitdesk/platform/go/setups"
)

// buildAuthMiddleware constructs the JWT middleware for the configured identity provider.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		settings, err := setups.LoadFirebaseSettings()
		if err != nil {
			logger.Fatal("load firebase settings", zap.Error(err))
		}
		fbAuth, err := gcp.InitFirebaseAuth(ctx, settings)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "hmac":
		if cfg.AuthHMACSecret == "" {
			logger.Fatal("AUTH_HMAC_SECRET required when AUTH_PROVIDER=hmac")
		}
		verify = platformauth.HMACTokenVerifier([]byte(cfg.AuthHMACSecret))
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	return platformauth.JWT(verify, platformauth.DefaultCredentialExtractor)
}
