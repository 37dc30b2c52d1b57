//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	stderrors "errors"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	pl "github.com/panyam/passlink"
)

// Kind constants for Datastore entities
const (
	KindUser             = "User"
	KindUserEmail        = "UserEmail"
	KindUsername         = "Username"
	KindVerificationCode = "VerificationCode"
	KindMagicLink        = "MagicLink"
)

type base struct {
	client    *datastore.Client
	namespace string
}

func (b base) namespacedKey(kind, name string, parent *datastore.Key) *datastore.Key {
	key := datastore.NameKey(kind, name, parent)
	key.Namespace = b.namespace
	return key
}

func (b base) userKey(userID string) *datastore.Key {
	return b.namespacedKey(KindUser, userID, nil)
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements pl.UserStore using Google Cloud Datastore
type UserStore struct {
	base
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{base{client: client, namespace: namespace}}
}

// CreateUser writes the user together with its email and username index
// entities in one transaction, so two signups can never share either key.
func (s *UserStore) CreateUser(ctx context.Context, user *pl.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	entity := &UserEntity{
		Username:      user.Username,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		ImageURL:      user.ImageURL,
		PasswordHash:  user.PasswordHash,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	userKey := s.userKey(user.ID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(userKey, &existing); err == nil {
			return errors.Errorf("user %s already exists", user.ID)
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		keys := []*datastore.Key{userKey}
		values := []any{entity}
		if name := pl.NormalizeKey(user.Username); name != "" {
			key := s.namespacedKey(KindUsername, name, nil)
			if taken, err := reserved(tx, key); err != nil {
				return err
			} else if taken {
				return pl.ErrUsernameTaken
			}
			keys = append(keys, key)
			values = append(values, &IndexEntity{UserID: user.ID, CreatedAt: now})
		}
		if email := pl.NormalizeKey(user.Email); email != "" {
			key := s.namespacedKey(KindUserEmail, email, nil)
			if taken, err := reserved(tx, key); err != nil {
				return err
			} else if taken {
				return pl.ErrEmailTaken
			}
			keys = append(keys, key)
			values = append(values, &IndexEntity{UserID: user.ID, CreatedAt: now})
		}

		for i, key := range keys {
			if _, err := tx.Put(key, values[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if stderrors.Is(err, pl.ErrUsernameTaken) || stderrors.Is(err, pl.ErrEmailTaken) {
		return err
	}
	return errors.Wrap(err, "create user")
}

func reserved(tx *datastore.Transaction, key *datastore.Key) (bool, error) {
	var index IndexEntity
	err := tx.Get(key, &index)
	if err == datastore.ErrNoSuchEntity {
		return false, nil
	}
	return err == nil, err
}

func (s *UserStore) GetUserById(ctx context.Context, userID string) (*pl.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.userKey(userID), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, pl.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*pl.User, error) {
	return s.byIndex(ctx, KindUserEmail, email)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*pl.User, error) {
	return s.byIndex(ctx, KindUsername, username)
}

func (s *UserStore) byIndex(ctx context.Context, kind, value string) (*pl.User, error) {
	name := pl.NormalizeKey(value)
	if name == "" {
		return nil, pl.ErrUserNotFound
	}
	var index IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, name, nil), &index); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, pl.ErrUserNotFound
		}
		return nil, errors.Wrapf(err, "lookup %s", kind)
	}
	return s.GetUserById(ctx, index.UserID)
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.update(ctx, userID, func(e *UserEntity) { e.EmailVerified = true })
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	return s.update(ctx, userID, func(e *UserEntity) { e.PasswordHash = passwordHash })
}

func (s *UserStore) update(ctx context.Context, userID string, apply func(*UserEntity)) error {
	key := s.userKey(userID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return pl.ErrUserNotFound
			}
			return err
		}
		apply(&entity)
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	if stderrors.Is(err, pl.ErrUserNotFound) {
		return err
	}
	return errors.Wrap(err, "update user")
}

// ============================================================================
// VerificationCodeStore
// ============================================================================

// VerificationCodeStore implements pl.VerificationCodeStore using Google Cloud Datastore
type VerificationCodeStore struct {
	base
}

// NewVerificationCodeStore creates a new Datastore-backed VerificationCodeStore
func NewVerificationCodeStore(client *datastore.Client, namespace string) *VerificationCodeStore {
	return &VerificationCodeStore{base{client: client, namespace: namespace}}
}

func (s *VerificationCodeStore) codeKey(userID string) *datastore.Key {
	return s.namespacedKey(KindVerificationCode, userID, nil)
}

func (s *VerificationCodeStore) SaveCode(ctx context.Context, code *pl.VerificationCode) error {
	code.Version = 1
	entity := &VerificationCodeEntity{
		Code:      code.Code,
		CreatedAt: code.CreatedAt,
		Version:   code.Version,
	}
	_, err := s.client.Put(ctx, s.codeKey(code.UserID), entity)
	return errors.Wrap(err, "save verification code")
}

func (s *VerificationCodeStore) GetCode(ctx context.Context, userID string) (*pl.VerificationCode, error) {
	var entity VerificationCodeEntity
	if err := s.client.Get(ctx, s.codeKey(userID), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, pl.ErrCodeNotFound
		}
		return nil, errors.Wrap(err, "get verification code")
	}
	return entity.ToVerificationCode(), nil
}

func (s *VerificationCodeStore) ReplaceCode(ctx context.Context, userID string, expectedVersion int, code string, createdAt time.Time) (bool, error) {
	key := s.codeKey(userID)
	replaced := false
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		replaced = false
		var entity VerificationCodeEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return nil
			}
			return err
		}
		if entity.Version != expectedVersion {
			return nil
		}
		entity.Code = code
		entity.CreatedAt = createdAt
		entity.Version++
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		replaced = true
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "replace verification code")
	}
	return replaced, nil
}

func (s *VerificationCodeStore) DeleteUserCodes(ctx context.Context, userID string) (int64, error) {
	key := s.codeKey(userID)
	var deleted int64
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		deleted = 0
		var entity VerificationCodeEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return nil
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		deleted = 1
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "delete verification codes")
	}
	return deleted, nil
}

// ============================================================================
// MagicLinkStore
// ============================================================================

// MagicLinkStore implements pl.MagicLinkStore using Google Cloud Datastore
type MagicLinkStore struct {
	base
}

// NewMagicLinkStore creates a new Datastore-backed MagicLinkStore
func NewMagicLinkStore(client *datastore.Client, namespace string) *MagicLinkStore {
	return &MagicLinkStore{base{client: client, namespace: namespace}}
}

func (s *MagicLinkStore) CreateLink(ctx context.Context, link *pl.MagicLink) error {
	entity := &MagicLinkEntity{
		UserID:    link.UserID,
		Token:     link.Token,
		CreatedAt: link.CreatedAt,
		ExpiresAt: link.ExpiresAt,
	}
	key := s.namespacedKey(KindMagicLink, link.ID, s.userKey(link.UserID))
	_, err := s.client.Put(ctx, key, entity)
	return errors.Wrap(err, "create magic link")
}

func (s *MagicLinkStore) userLinks(userID string) *datastore.Query {
	return datastore.NewQuery(KindMagicLink).
		Ancestor(s.userKey(userID)).
		Namespace(s.namespace)
}

// LatestLink scans the user's entity group; the per-user link count stays
// small because redemption clears it.
func (s *MagicLinkStore) LatestLink(ctx context.Context, userID string) (*pl.MagicLink, error) {
	var latest *MagicLinkEntity
	it := s.client.Run(ctx, s.userLinks(userID))
	for {
		var entity MagicLinkEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "list magic links")
		}
		if latest == nil || entity.CreatedAt.After(latest.CreatedAt) {
			e := entity
			latest = &e
		}
	}
	if latest == nil {
		return nil, pl.ErrLinkNotFound
	}
	return latest.ToMagicLink(), nil
}

func (s *MagicLinkStore) HasActiveLink(ctx context.Context, userID string, now time.Time) (bool, error) {
	it := s.client.Run(ctx, s.userLinks(userID))
	for {
		var entity MagicLinkEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrap(err, "list magic links")
		}
		if entity.ExpiresAt.After(now) {
			return true, nil
		}
	}
}

func (s *MagicLinkStore) DeleteUserLinks(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		deleted = 0
		keys, err := s.client.GetAll(ctx, s.userLinks(userID).KeysOnly().Transaction(tx), nil)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err := tx.DeleteMulti(keys); err != nil {
			return err
		}
		deleted = int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "delete magic links")
	}
	return deleted, nil
}
