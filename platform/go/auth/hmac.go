package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HMACTokenVerifier returns a VerifyFunc that validates HS256 tokens signed with secret.
// Intended for self-hosted deployments without Firebase; the CLI devtoken command
// mints compatible tokens when given the same secret.
func HMACTokenVerifier(secret []byte) VerifyFunc {
	if len(secret) == 0 {
		panic("auth.HMACTokenVerifier: secret must not be empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("invalid token")
		}
		return map[string]interface{}(claims), nil
	}
}
