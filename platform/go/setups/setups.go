package setups

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// FirebaseSettings locates the service account used by the Admin SDK when AUTH_PROVIDER=firebase.
// An empty CredentialsFile falls back to application default credentials.
type FirebaseSettings struct {
	CredentialsFile string `env:"FIREBASE_CONFIG"`
	ProjectID       string `env:"GCLOUD_PROJECT"`
}

// LoadFirebaseSettings reads FirebaseSettings from the process environment.
func LoadFirebaseSettings() (FirebaseSettings, error) {
	var settings FirebaseSettings
	if err := env.Parse(&settings); err != nil {
		return FirebaseSettings{}, fmt.Errorf("load firebase settings: %w", err)
	}
	return settings, nil
}

// HasCredentialsFile reports whether an explicit service account file was configured.
func (s FirebaseSettings) HasCredentialsFile() bool {
	return s.CredentialsFile != ""
}
