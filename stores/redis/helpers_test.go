package redis

import (
	"context"
	"sync"

	pl "github.com/panyam/passlink"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*pl.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*pl.User{}}
}

func (m *memUsers) add(u *pl.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUsers) CreateUser(ctx context.Context, u *pl.User) error {
	m.add(u)
	return nil
}

func (m *memUsers) GetUserById(ctx context.Context, id string) (*pl.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, pl.ErrUserNotFound
}

func (m *memUsers) find(match func(*pl.User) bool) (*pl.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pl.ErrUserNotFound
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*pl.User, error) {
	return m.find(func(u *pl.User) bool { return pl.NormalizeKey(u.Email) == pl.NormalizeKey(email) })
}

func (m *memUsers) GetUserByUsername(ctx context.Context, username string) (*pl.User, error) {
	return m.find(func(u *pl.User) bool { return pl.NormalizeKey(u.Username) == pl.NormalizeKey(username) })
}

func (m *memUsers) MarkEmailVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.EmailVerified = true
		return nil
	}
	return pl.ErrUserNotFound
}

func (m *memUsers) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = hash
		return nil
	}
	return pl.ErrUserNotFound
}
