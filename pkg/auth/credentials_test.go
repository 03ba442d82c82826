package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreds() *Credentials {
	return &Credentials{
		Platform:    PlatformOnlyFans,
		Session:     "sess-token",
		AuthID:      "12345",
		UserAgent:   "Mozilla/5.0 test",
		HeaderToken: "xbc-token",
	}
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, validCreds().Validate())

	missing := validCreds()
	missing.Session = ""
	assert.ErrorIs(t, missing.Validate(), ErrInvalidCredentials)

	noID := validCreds()
	noID.AuthID = ""
	assert.ErrorIs(t, noID.Validate(), ErrInvalidCredentials)

	var nilCreds *Credentials
	assert.ErrorIs(t, nilCreds.Validate(), ErrInvalidCredentials)
}

func TestCookieAuthUIDFallback(t *testing.T) {
	creds := validCreds()
	assert.Equal(t, "12345", creds.CookieAuthUID(), "without 2FA the auth id is used")

	creds.AuthUID = "99999"
	assert.Equal(t, "99999", creds.CookieAuthUID())
}

func TestManagerChainFallthrough(t *testing.T) {
	failing := NewMockStore()
	failing.FailWith(ErrStoreUnavailable)
	working := NewMockStore()

	m := NewManagerWithStores(failing, working)

	require.NoError(t, m.Store(validCreds()))
	assert.False(t, failing.Exists(PlatformOnlyFans))
	assert.True(t, working.Exists(PlatformOnlyFans))

	got, err := m.Retrieve(PlatformOnlyFans)
	require.NoError(t, err)
	assert.Equal(t, "sess-token", got.Session)
}

func TestManagerIsolatesPlatforms(t *testing.T) {
	store := NewMockStore()
	m := NewManagerWithStores(store)

	ofCreds := validCreds()
	require.NoError(t, m.Store(ofCreds))

	fanslyCreds := validCreds()
	fanslyCreds.Platform = PlatformFansly
	fanslyCreds.Session = "fansly-sess"
	require.NoError(t, m.Store(fanslyCreds))

	of, err := m.Retrieve(PlatformOnlyFans)
	require.NoError(t, err)
	fan, err := m.Retrieve(PlatformFansly)
	require.NoError(t, err)

	assert.NotEqual(t, of.Session, fan.Session)
}

func TestManagerDelete(t *testing.T) {
	store := NewMockStore()
	m := NewManagerWithStores(store)

	require.NoError(t, m.Store(validCreds()))
	require.NoError(t, m.Delete(PlatformOnlyFans))
	assert.False(t, m.Exists(PlatformOnlyFans))

	assert.ErrorIs(t, m.Delete(PlatformOnlyFans), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CREATORSYNC_PASSPHRASE", "test-passphrase")

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)

	require.NoError(t, store.Store(validCreds()))

	got, err := store.Retrieve(PlatformOnlyFans)
	require.NoError(t, err)
	assert.Equal(t, "sess-token", got.Session)
	assert.Equal(t, "12345", got.AuthID)

	// A second store instance over the same file decrypts it.
	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	got2, err := reopened.Retrieve(PlatformOnlyFans)
	require.NoError(t, err)
	assert.Equal(t, got.Session, got2.Session)
}

func TestEncryptedFileStoreDeleteLast(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CREATORSYNC_PASSPHRASE", "test-passphrase")

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)

	require.NoError(t, store.Store(validCreds()))
	require.NoError(t, store.Delete(PlatformOnlyFans))
	assert.False(t, store.Exists(PlatformOnlyFans))
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("CREATORSYNC_ONLYFANS_SESSION", "env-sess")
	t.Setenv("CREATORSYNC_ONLYFANS_AUTH_ID", "777")
	t.Setenv("CREATORSYNC_ONLYFANS_TOKEN", "env-xbc")

	store := NewEnvironmentStore()
	creds, err := store.Retrieve(PlatformOnlyFans)
	require.NoError(t, err)
	assert.Equal(t, "env-sess", creds.Session)
	assert.Equal(t, "777", creds.AuthID)
	assert.Equal(t, "env-xbc", creds.HeaderToken)

	_, err = store.Retrieve(PlatformFansly)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	assert.ErrorIs(t, store.Store(creds), ErrStoreUnavailable)
}
