package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNoCredentials means the request carries no Authorization header at all.
	ErrNoCredentials = errors.New("no credentials")
	// ErrMalformedAuthorization means an Authorization header is present but is not a usable bearer token.
	ErrMalformedAuthorization = errors.New("malformed authorization header")
)

const bearerPrefix = "Bearer "

// BearerToken returns the token of a "Bearer <token>" Authorization header. The scheme is case-insensitive.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMalformedAuthorization
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMalformedAuthorization
	}
	return token, nil
}
