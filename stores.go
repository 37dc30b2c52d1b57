package passlink

import (
	"context"
	"strings"
	"time"
)

// User is a unified user account.
// Username is optional for passwordless (magic-link only) users and
// PasswordHash is empty for users that never set a password.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username,omitempty"`
	Email         string    `json:"email,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	PasswordHash  string    `json:"password_hash,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPassword returns true if the user can log in with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// SessionUser returns the attributes attached to a session for this user
func (u *User) SessionUser() SessionUser {
	return SessionUser{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Username:    u.Username,
		ImageURL:    u.ImageURL,
	}
}

// VerificationCode is the single active email verification code of a user
type VerificationCode struct {
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	Version   int       `json:"version"` // optimistic locking version
}

// MagicLink is one issued sign-in link. A user may have many.
type MagicLink struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserStore manages user accounts.
// Email and username lookups are case-insensitive.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrUsernameTaken or
	// ErrEmailTaken if either is already in use.
	CreateUser(ctx context.Context, user *User) error

	// GetUserById returns ErrUserNotFound if no such user exists
	GetUserById(ctx context.Context, userID string) (*User, error)

	GetUserByEmail(ctx context.Context, email string) (*User, error)

	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// MarkEmailVerified sets EmailVerified on the user
	MarkEmailVerified(ctx context.Context, userID string) error

	// UpdatePasswordHash replaces the stored password hash
	UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error
}

// VerificationCodeStore keeps at most one code per user
type VerificationCodeStore interface {
	// SaveCode creates or overwrites the user's code and resets its version to 1
	SaveCode(ctx context.Context, code *VerificationCode) error

	// GetCode returns ErrCodeNotFound if the user has no active code
	GetCode(ctx context.Context, userID string) (*VerificationCode, error)

	// ReplaceCode swaps in a new code only if the stored version still equals
	// expectedVersion. Returns false when another writer got there first.
	ReplaceCode(ctx context.Context, userID string, expectedVersion int, code string, createdAt time.Time) (bool, error)

	// DeleteUserCodes removes every code row of the user and reports how many went
	DeleteUserCodes(ctx context.Context, userID string) (int64, error)
}

// MagicLinkStore manages issued magic links
type MagicLinkStore interface {
	CreateLink(ctx context.Context, link *MagicLink) error

	// LatestLink returns the most recently created link or ErrLinkNotFound
	LatestLink(ctx context.Context, userID string) (*MagicLink, error)

	// HasActiveLink reports whether the user has a link that has not expired at now
	HasActiveLink(ctx context.Context, userID string, now time.Time) (bool, error)

	// DeleteUserLinks removes all links of the user and reports how many went
	DeleteUserLinks(ctx context.Context, userID string) (int64, error)
}

// NormalizeKey lowercases and trims an email or username for lookups
func NormalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
