package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Params captures the Firebase-compatible claims required to mint a JWT for
// local and CI environments. No environment variables are read so the builder
// stays deterministic for tooling.
type Params struct {
	ProjectID              string        // Firebase project id; used for aud and iss
	UserID                 string        // user_id/sub/uid (required); compared against assignedManagerId
	Email                  string        // email claim (required)
	Name                   string        // display name, recorded as performedByName in audit entries
	Role                   string        // role claim, recorded as performedByRole; default "manager"
	EmailVerified          bool          // email_verified claim
	IsAdmin                bool          // isAdmin custom claim for backend role checks
	FirebaseSignInProvider string        // firebase.sign_in_provider; default "password"
	ExpiresIn              time.Duration // relative expiry; default 1h if zero
	Audience               string        // optional override; defaults to ProjectID
	Issuer                 string        // optional override; defaults to https://securetoken.google.com/<projectId>
}

// BuildUnsignedFirebaseToken returns a JWT string with alg "none" and no signature.
// The payload mirrors Firebase ID token shape so it can flow through the
// auth middleware when AUTH_PROVIDER=dev.
func BuildUnsignedFirebaseToken(p Params, now time.Time) (string, error) {
	payload, err := buildClaims(p, now)
	if err != nil {
		return "", err
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

// BuildSignedToken returns the same claims signed with HS256, accepted when AUTH_PROVIDER=hmac.
func BuildSignedToken(p Params, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}

	payload, err := buildClaims(p, now)
	if err != nil {
		return "", err
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload)).SignedString(secret)
}

func buildClaims(p Params, now time.Time) (map[string]interface{}, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, errors.New("projectID is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID)
	}

	audience := p.Audience
	if strings.TrimSpace(audience) == "" {
		audience = p.ProjectID
	}

	signInProvider := p.FirebaseSignInProvider
	if strings.TrimSpace(signInProvider) == "" {
		signInProvider = "password"
	}

	role := strings.TrimSpace(p.Role)
	if role == "" {
		role = "manager"
	}

	return map[string]interface{}{
		"iss":            issuer,
		"aud":            audience,
		"auth_time":      now.Unix(),
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"name":           p.Name,
		"role":           role,
		"isAdmin":        p.IsAdmin,
		"firebase": map[string]interface{}{
			"identities":       map[string]interface{}{"email": []string{p.Email}},
			"sign_in_provider": signInProvider,
		},
	}, nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
