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

// SessionStore is an scs.Store (with the Ctx and Iterable variants) over the
// sessions table. It also implements pl.UserSessionDeleter.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var model SessionModel
	err := s.db.WithContext(ctx).Where("token = ? AND expiry > ?", token, time.Now().UTC()).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "find session")
	}
	return model.Data, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	model := &SessionModel{Token: token, Data: b, Expiry: expiry.UTC()}
	if rec, err := pl.DecodeSessionRecord(b); err == nil {
		model.UserID = rec.UserID
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "data", "expiry"}),
	}).Create(model).Error
	return errors.Wrap(err, "commit session")
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	return errors.Wrap(s.db.WithContext(ctx).Delete(&SessionModel{}, "token = ?", token).Error, "delete session")
}

// All returns every unexpired session keyed by token
func (s *SessionStore) All() (map[string][]byte, error) {
	var models []SessionModel
	if err := s.db.Where("expiry > ?", time.Now().UTC()).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	out := make(map[string][]byte, len(models))
	for _, m := range models {
		out[m.Token] = m.Data
	}
	return out, nil
}

func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	return errors.Wrap(s.db.WithContext(ctx).Delete(&SessionModel{}, "user_id = ?", userID).Error, "delete user sessions")
}

// DeleteExpired removes sessions past their expiry
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&SessionModel{}, "expiry <= ?", time.Now().UTC())
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete expired sessions")
	}
	return res.RowsAffected, nil
}
