package auth

import "sync"

// MockStore is an in-memory CredentialStore for tests.
type MockStore struct {
	mu   sync.RWMutex
	sets map[Platform]Credentials
	fail error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{sets: make(map[Platform]Credentials)}
}

// FailWith makes every operation return err. Pass nil to clear.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockStore) Store(creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	m.sets[creds.Platform] = *creds
	return nil
}

func (m *MockStore) Retrieve(platform Platform) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	creds, ok := m.sets[platform]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &creds, nil
}

func (m *MockStore) Delete(platform Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.sets[platform]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.sets, platform)
	return nil
}

func (m *MockStore) Exists(platform Platform) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[platform]
	return ok
}
