//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	pl "github.com/panyam/passlink"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	Username      string         `datastore:"username"`
	Email         string         `datastore:"email"`
	DisplayName   string         `datastore:"display_name,noindex"`
	ImageURL      string         `datastore:"image_url,noindex"`
	PasswordHash  string         `datastore:"password_hash,noindex"`
	EmailVerified bool           `datastore:"email_verified"`
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *pl.User {
	return &pl.User{
		ID:            e.Key.Name,
		Username:      e.Username,
		Email:         e.Email,
		DisplayName:   e.DisplayName,
		ImageURL:      e.ImageURL,
		PasswordHash:  e.PasswordHash,
		EmailVerified: e.EmailVerified,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// IndexEntity reserves a unique lowercased email or username.
// The key name is the normalized value.
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

// VerificationCodeEntity is keyed by user id
type VerificationCodeEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Code      string         `datastore:"code,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	Version   int            `datastore:"version"`
}

func (e *VerificationCodeEntity) ToVerificationCode() *pl.VerificationCode {
	return &pl.VerificationCode{
		UserID:    e.Key.Name,
		Code:      e.Code,
		CreatedAt: e.CreatedAt,
		Version:   e.Version,
	}
}

// MagicLinkEntity is a child of the owning user's key
type MagicLinkEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	Token     string         `datastore:"token,noindex"`
	CreatedAt time.Time      `datastore:"created_at"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}

func (e *MagicLinkEntity) ToMagicLink() *pl.MagicLink {
	return &pl.MagicLink{
		ID:        e.Key.Name,
		UserID:    e.UserID,
		Token:     e.Token,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}
