package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   error
	}{
		{"bearer token", "Bearer abc.def", "abc.def", nil},
		{"lower case scheme", "bearer   abc.def ", "abc.def", nil},
		{"missing header", "", "", ErrNoCredentials},
		{"basic scheme", "Basic Zm9vOmJhcg==", "", ErrMalformedAuthorization},
		{"empty token", "Bearer   ", "", ErrMalformedAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/owners", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			token, err := BearerToken(r)
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantToken, token)
		})
	}
}
