package fs

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	pl "github.com/panyam/passlink"
)

// fsIndexEntry maps a normalized email or username to its user
type fsIndexEntry struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FSUserStore stores users as JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── {user_id}.json
//	├── emails/
//	│   └── {normalized email}.json     # {"key": "a@b.com", "user_id": "..."}
//	└── usernames/
//	    └── {normalized username}.json
//
// # Concurrency Model
//
// Writes go through a store-wide mutex so the uniqueness checks in CreateUser
// cannot interleave within one process. Multiple processes sharing a
// directory are not supported.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(userID string) string {
	return filepath.Join(s.StoragePath, "users", keyFileName(userID))
}

func (s *FSUserStore) indexPath(kind, key string) string {
	return filepath.Join(s.StoragePath, kind, keyFileName(pl.NormalizeKey(key)))
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *pl.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username != "" {
		if found, err := readJSONFile(s.indexPath("usernames", user.Username), &fsIndexEntry{}); err != nil {
			return err
		} else if found {
			return pl.ErrUsernameTaken
		}
	}
	if user.Email != "" {
		if found, err := readJSONFile(s.indexPath("emails", user.Email), &fsIndexEntry{}); err != nil {
			return err
		} else if found {
			return pl.ErrEmailTaken
		}
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	if err := writeJSONFile(s.userPath(user.ID), user); err != nil {
		return err
	}
	if user.Username != "" {
		entry := &fsIndexEntry{Key: pl.NormalizeKey(user.Username), UserID: user.ID, CreatedAt: now}
		if err := writeJSONFile(s.indexPath("usernames", user.Username), entry); err != nil {
			return err
		}
	}
	if user.Email != "" {
		entry := &fsIndexEntry{Key: pl.NormalizeKey(user.Email), UserID: user.ID, CreatedAt: now}
		if err := writeJSONFile(s.indexPath("emails", user.Email), entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSUserStore) GetUserById(ctx context.Context, userID string) (*pl.User, error) {
	var user pl.User
	found, err := readJSONFile(s.userPath(userID), &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pl.ErrUserNotFound
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (*pl.User, error) {
	return s.getByIndex(ctx, "emails", email)
}

func (s *FSUserStore) GetUserByUsername(ctx context.Context, username string) (*pl.User, error) {
	return s.getByIndex(ctx, "usernames", username)
}

func (s *FSUserStore) getByIndex(ctx context.Context, kind, key string) (*pl.User, error) {
	var entry fsIndexEntry
	found, err := readJSONFile(s.indexPath(kind, key), &entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pl.ErrUserNotFound
	}
	return s.GetUserById(ctx, entry.UserID)
}

func (s *FSUserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.update(ctx, userID, func(u *pl.User) { u.EmailVerified = true })
}

func (s *FSUserStore) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	return s.update(ctx, userID, func(u *pl.User) { u.PasswordHash = passwordHash })
}

func (s *FSUserStore) update(ctx context.Context, userID string, mutate func(*pl.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.GetUserById(ctx, userID)
	if err != nil {
		return err
	}
	mutate(user)
	user.UpdatedAt = time.Now()
	return writeJSONFile(s.userPath(userID), user)
}
