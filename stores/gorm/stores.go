//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pl "github.com/panyam/passlink"
)

// AutoMigrate runs database migrations for all passlink tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&VerificationCodeModel{},
		&MagicLinkModel{},
		&SessionModel{},
	)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements pl.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *pl.User) error {
	model := UserToModel(user)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.UsernameKey != nil {
			if taken, err := exists(tx, "username_key = ?", *model.UsernameKey); err != nil {
				return err
			} else if taken {
				return pl.ErrUsernameTaken
			}
		}
		if model.EmailKey != nil {
			if taken, err := exists(tx, "email_key = ?", *model.EmailKey); err != nil {
				return err
			} else if taken {
				return pl.ErrEmailTaken
			}
		}
		return tx.Create(model).Error
	})
	if err == nil {
		user.CreatedAt, user.UpdatedAt = model.CreatedAt, model.UpdatedAt
		return nil
	}
	if stderrors.Is(err, pl.ErrUsernameTaken) || stderrors.Is(err, pl.ErrEmailTaken) {
		return err
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race with a concurrent insert; report which key collided
		if model.EmailKey != nil {
			if taken, _ := exists(s.db.WithContext(ctx), "email_key = ?", *model.EmailKey); taken {
				return pl.ErrEmailTaken
			}
		}
		return pl.ErrUsernameTaken
	}
	return errors.Wrap(err, "create user")
}

func exists(tx *gorm.DB, query string, args ...any) (bool, error) {
	var count int64
	if err := tx.Model(&UserModel{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "check user exists")
	}
	return count > 0, nil
}

func (s *UserStore) GetUserById(ctx context.Context, userID string) (*pl.User, error) {
	return s.first(ctx, "id = ?", userID)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*pl.User, error) {
	return s.first(ctx, "email_key = ?", pl.NormalizeKey(email))
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*pl.User, error) {
	return s.first(ctx, "username_key = ?", pl.NormalizeKey(username))
}

func (s *UserStore) first(ctx context.Context, query string, args ...any) (*pl.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pl.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return model.ToUser(), nil
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.update(ctx, userID, "email_verified", true)
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	return s.update(ctx, userID, "password_hash", passwordHash)
}

func (s *UserStore) update(ctx context.Context, userID string, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update user %s", column)
	}
	if res.RowsAffected == 0 {
		return pl.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// VerificationCodeStore
// =============================================================================

// VerificationCodeStore implements pl.VerificationCodeStore using GORM
type VerificationCodeStore struct {
	db *gorm.DB
}

func NewVerificationCodeStore(db *gorm.DB) *VerificationCodeStore {
	return &VerificationCodeStore{db: db}
}

func (s *VerificationCodeStore) SaveCode(ctx context.Context, code *pl.VerificationCode) error {
	code.Version = 1
	model := VerificationCodeToModel(code)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "created_at", "version"}),
	}).Create(model).Error
	return errors.Wrap(err, "save verification code")
}

func (s *VerificationCodeStore) GetCode(ctx context.Context, userID string) (*pl.VerificationCode, error) {
	var model VerificationCodeModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pl.ErrCodeNotFound
		}
		return nil, errors.Wrap(err, "get verification code")
	}
	return model.ToVerificationCode(), nil
}

// ReplaceCode is a single conditional UPDATE, so the version check and the
// write are atomic in the database.
func (s *VerificationCodeStore) ReplaceCode(ctx context.Context, userID string, expectedVersion int, code string, createdAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&VerificationCodeModel{}).
		Where("user_id = ? AND version = ?", userID, expectedVersion).
		Updates(map[string]any{
			"code":       code,
			"created_at": createdAt.UTC(),
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "replace verification code")
	}
	return res.RowsAffected == 1, nil
}

func (s *VerificationCodeStore) DeleteUserCodes(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&VerificationCodeModel{}, "user_id = ?", userID)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete verification codes")
	}
	return res.RowsAffected, nil
}

// =============================================================================
// MagicLinkStore
// =============================================================================

// MagicLinkStore implements pl.MagicLinkStore using GORM
type MagicLinkStore struct {
	db *gorm.DB
}

func NewMagicLinkStore(db *gorm.DB) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

func (s *MagicLinkStore) CreateLink(ctx context.Context, link *pl.MagicLink) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(MagicLinkToModel(link)).Error, "create magic link")
}

func (s *MagicLinkStore) LatestLink(ctx context.Context, userID string) (*pl.MagicLink, error) {
	var model MagicLinkModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pl.ErrLinkNotFound
		}
		return nil, errors.Wrap(err, "get latest magic link")
	}
	return model.ToMagicLink(), nil
}

func (s *MagicLinkStore) HasActiveLink(ctx context.Context, userID string, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MagicLinkModel{}).
		Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count magic links")
	}
	return count > 0, nil
}

func (s *MagicLinkStore) DeleteUserLinks(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&MagicLinkModel{}, "user_id = ?", userID)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete magic links")
	}
	return res.RowsAffected, nil
}
