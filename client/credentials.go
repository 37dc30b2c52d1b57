// Package client is a Go client for a passlink server. It keeps the session
// cookie of each server in a CredentialStore so a CLI stays signed in
// across runs.
package client

import (
	"net/http"
	"sync"
	"time"

	pl "github.com/panyam/passlink"
)

// ServerCredential is the session a client holds for a single server
type ServerCredential struct {
	SessionID  string    `json:"session_id"`
	CookieName string    `json:"cookie_name,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	UserEmail  string    `json:"user_email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cookie returns the cookie that presents this session to the server
func (c *ServerCredential) Cookie() *http.Cookie {
	name := c.CookieName
	if name == "" {
		name = pl.DefaultSessionCookieName
	}
	return &http.Cookie{Name: name, Value: c.SessionID}
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	// SetCredential stores a credential for a server URL
	SetCredential(serverURL string, cred *ServerCredential) error

	// RemoveCredential removes a credential for a server URL
	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// MemoryCredentialStore keeps credentials in memory only
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]*ServerCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (m *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[serverURL], nil
}

func (m *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[serverURL] = cred
	return nil
}

func (m *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serverURL)
	return nil
}

func (m *MemoryCredentialStore) ListServers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	servers := make([]string, 0, len(m.creds))
	for k := range m.creds {
		servers = append(servers, k)
	}
	return servers, nil
}

func (m *MemoryCredentialStore) Save() error {
	return nil
}
