package auth

import (
	"os"
	"strings"
	"time"
)

// EnvironmentStore implements CredentialStore using environment variables.
// Read-only; last resort in the store chain. Variables follow the pattern
// CREATORSYNC_<PLATFORM>_SESSION, _AUTH_ID, _AUTH_UID, _USER_AGENT, _TOKEN.
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-based credential store.
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func envPrefix(platform Platform) string {
	return "CREATORSYNC_" + strings.ToUpper(string(platform)) + "_"
}

// Store is not supported for environment variables.
func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables.
func (e *EnvironmentStore) Retrieve(platform Platform) (*Credentials, error) {
	if platform == "" {
		return nil, ErrInvalidCredentials
	}

	prefix := envPrefix(platform)
	session := os.Getenv(prefix + "SESSION")
	authID := os.Getenv(prefix + "AUTH_ID")

	if session == "" || authID == "" {
		return nil, ErrCredentialsNotFound
	}

	return &Credentials{
		Platform:     platform,
		Session:      session,
		AuthID:       authID,
		AuthUID:      os.Getenv(prefix + "AUTH_UID"),
		UserAgent:    os.Getenv(prefix + "USER_AGENT"),
		HeaderToken:  os.Getenv(prefix + "TOKEN"),
		LastModified: time.Now(),
	}, nil
}

// Delete is not supported for environment variables.
func (e *EnvironmentStore) Delete(platform Platform) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials are set for the platform.
func (e *EnvironmentStore) Exists(platform Platform) bool {
	_, err := e.Retrieve(platform)
	return err == nil
}
