//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	pl "github.com/panyam/passlink"
)

// UserModel is the GORM model for users.
// The *Key columns hold the lowercased email/username and carry the unique
// indexes; NULL keys do not collide.
type UserModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Username      string    `gorm:"size:64"`
	UsernameKey   *string   `gorm:"size:64;uniqueIndex"`
	Email         string    `gorm:"size:320"`
	EmailKey      *string   `gorm:"size:320;uniqueIndex"`
	DisplayName   string    `gorm:"size:255"`
	ImageURL      string    `gorm:"size:1024"`
	PasswordHash  string    `gorm:"size:255"`
	EmailVerified bool      `gorm:"default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *pl.User {
	return &pl.User{
		ID:            m.ID,
		Username:      m.Username,
		Email:         m.Email,
		DisplayName:   m.DisplayName,
		ImageURL:      m.ImageURL,
		PasswordHash:  m.PasswordHash,
		EmailVerified: m.EmailVerified,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func UserToModel(u *pl.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Username:      u.Username,
		UsernameKey:   lookupKey(u.Username),
		Email:         u.Email,
		EmailKey:      lookupKey(u.Email),
		DisplayName:   u.DisplayName,
		ImageURL:      u.ImageURL,
		PasswordHash:  u.PasswordHash,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.UTC(),
		UpdatedAt:     u.UpdatedAt.UTC(),
	}
}

func lookupKey(value string) *string {
	key := pl.NormalizeKey(value)
	if key == "" {
		return nil
	}
	return &key
}

// VerificationCodeModel is the GORM model for verification codes. The user
// id is the primary key, which enforces one code per user.
type VerificationCodeModel struct {
	UserID    string    `gorm:"primaryKey;size:64"`
	Code      string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null"`
	Version   int       `gorm:"not null;default:1"`
}

func (VerificationCodeModel) TableName() string {
	return "verification_codes"
}

func (m *VerificationCodeModel) ToVerificationCode() *pl.VerificationCode {
	return &pl.VerificationCode{
		UserID:    m.UserID,
		Code:      m.Code,
		CreatedAt: m.CreatedAt,
		Version:   m.Version,
	}
}

func VerificationCodeToModel(c *pl.VerificationCode) *VerificationCodeModel {
	return &VerificationCodeModel{
		UserID:    c.UserID,
		Code:      c.Code,
		CreatedAt: c.CreatedAt.UTC(),
		Version:   c.Version,
	}
}

// MagicLinkModel is the GORM model for magic links
type MagicLinkModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:64;index"`
	Token     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
	ExpiresAt time.Time `gorm:"index"`
}

func (MagicLinkModel) TableName() string {
	return "magic_links"
}

func (m *MagicLinkModel) ToMagicLink() *pl.MagicLink {
	return &pl.MagicLink{
		ID:        m.ID,
		UserID:    m.UserID,
		Token:     m.Token,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func MagicLinkToModel(l *pl.MagicLink) *MagicLinkModel {
	return &MagicLinkModel{
		ID:        l.ID,
		UserID:    l.UserID,
		Token:     l.Token,
		CreatedAt: l.CreatedAt.UTC(),
		ExpiresAt: l.ExpiresAt.UTC(),
	}
}

// SessionModel backs SessionStore. UserID is copied out of the encoded
// record so all sessions of a user can be deleted with one statement.
type SessionModel struct {
	Token  string    `gorm:"primaryKey;size:64"`
	UserID string    `gorm:"size:64;index"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}
