// Package auth holds the credential set consumed by the session client and
// the storage chain it is loaded from. Credential acquisition (extracting
// tokens from a browser) is the user's job; the engine only consumes what
// is stored here and never mutates it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Platform names a credential domain. OnlyFans and Fansly sessions are
// fully independent; credentials from one are never used on the other.
type Platform string

const (
	PlatformOnlyFans Platform = "onlyfans"
	PlatformFansly   Platform = "fansly"
)

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

// Credentials is the immutable credential set for one platform session.
type Credentials struct {
	Platform     Platform  `json:"platform"`
	Session      string    `json:"session"`             // sess cookie value
	AuthID       string    `json:"auth_id"`             // authenticated user ID
	AuthUID      string    `json:"auth_uid,omitempty"`  // set only for 2FA accounts
	UserAgent    string    `json:"user_agent"`
	HeaderToken  string    `json:"header_token"`        // x-bc security token
	LastModified time.Time `json:"last_modified"`
}

// Validate checks the fields the session client cannot work without.
func (c *Credentials) Validate() error {
	if c == nil {
		return ErrInvalidCredentials
	}
	if c.Platform == "" {
		return fmt.Errorf("%w: platform is required", ErrInvalidCredentials)
	}
	if c.Session == "" {
		return fmt.Errorf("%w: session token is required", ErrInvalidCredentials)
	}
	if c.AuthID == "" {
		return fmt.Errorf("%w: auth id is required", ErrInvalidCredentials)
	}
	return nil
}

// CookieAuthUID returns the value for the auth_uid_ cookie. Accounts
// without 2FA fall back to the auth id, matching platform behavior.
func (c *Credentials) CookieAuthUID() string {
	if c.AuthUID != "" {
		return c.AuthUID
	}
	return c.AuthID
}

// CredentialStore is the interface for storing and retrieving credentials.
type CredentialStore interface {
	Store(creds *Credentials) error
	Retrieve(platform Platform) (*Credentials, error)
	Delete(platform Platform) error
	Exists(platform Platform) bool
}

// Manager chains credential stores with fallback: keyring, then encrypted
// file, then environment variables.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with the available backends.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over an explicit chain. Used in
// tests and by callers that manage their own backends.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them.
func (m *Manager) Store(creds *Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	creds.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(creds); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve returns the first matching credential set in the chain.
func (m *Manager) Retrieve(platform Platform) (*Credentials, error) {
	for _, store := range m.stores {
		creds, err := store.Retrieve(platform)
		if err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, fmt.Errorf("%w for platform %s", ErrCredentialsNotFound, platform)
}

// Delete removes credentials from every store holding them.
func (m *Manager) Delete(platform Platform) error {
	deleted := false
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(platform); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}
	if !deleted && lastErr != nil {
		return lastErr
	}
	if !deleted {
		return ErrCredentialsNotFound
	}
	return nil
}

// Exists reports whether any store holds credentials for the platform.
func (m *Manager) Exists(platform Platform) bool {
	for _, store := range m.stores {
		if store.Exists(platform) {
			return true
		}
	}
	return false
}

// ConfigDir returns the per-user configuration directory, creating it if
// necessary.
func ConfigDir() (string, error) {
	var dir string

	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "creatorsync")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".config", "creatorsync")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "creatorsync")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "creatorsync")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".creatorsync")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
