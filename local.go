package passlink

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Login signs a user in with a username or email and a password.
// Unknown users, passwordless users and wrong passwords get the same answer.
func (a *AccountFlow) Login(ctx context.Context, identifier, password string) Outcome {
	a.EnsureDefaults()
	identifier = strings.TrimSpace(identifier)
	password = strings.TrimSpace(password)
	if identifier == "" {
		return Failure(ValidationError(ErrCodeMissingField, "Username or email is required", "username"))
	}
	if password == "" {
		return Failure(ValidationError(ErrCodeMissingField, "Password is required.", "password"))
	}

	var user *User
	var err error
	if DetectUsernameType(identifier) == "email" {
		user, err = a.Users.GetUserByEmail(ctx, NormalizeKey(identifier))
	} else {
		user, err = a.Users.GetUserByUsername(ctx, NormalizeKey(identifier))
	}
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return a.internal("login: user lookup failed", err)
	}
	if user == nil || !user.HasPassword() {
		return Failure(invalidCredentials())
	}

	ok, err := a.Hasher.Verify(user.PasswordHash, password)
	if err != nil {
		a.Logger.Warn("login: unreadable password hash", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		return Failure(invalidCredentials())
	}

	if a.RequireEmailVerification && !user.EmailVerified {
		return Failure(&AuthError{Kind: KindUnauthorized, Code: ErrCodeEmailNotVerified, Message: "Email not verified", Field: "email"})
	}

	a.Logger.Info("user logged in", zap.String("user_id", user.ID))
	return a.startSession(ctx, user.ID)
}

// Logout invalidates the session. Without a valid session this is a hard
// Unauthorized failure rather than a soft result.
func (a *AccountFlow) Logout(ctx context.Context, sessionID string) Outcome {
	a.EnsureDefaults()
	session, err := a.Sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return a.internal("logout: validate session failed", err)
	}
	if session == nil {
		return Failure(UnauthorizedError())
	}
	if err := a.Sessions.InvalidateSession(ctx, session.ID); err != nil {
		return a.internal("logout: invalidate session failed", err)
	}
	a.Logger.Info("user logged out", zap.String("user_id", session.UserID))
	return Redirect(a.LoginURL, a.Sessions.BlankSessionCookie())
}

// ChangePassword replaces the password of the session's user, ends all of
// their sessions and starts a new one.
func (a *AccountFlow) ChangePassword(ctx context.Context, sessionID, currentPassword, newPassword string) Outcome {
	a.EnsureDefaults()
	session, err := a.Sessions.ValidateSession(ctx, sessionID)
	if err != nil {
		return a.internal("change password: validate session failed", err)
	}
	if session == nil {
		return Failure(UnauthorizedError())
	}

	currentPassword = strings.TrimSpace(currentPassword)
	newPassword = strings.TrimSpace(newPassword)
	if currentPassword == "" {
		return Failure(ValidationError(ErrCodeMissingField, "Password is required.", "password"))
	}
	if currentPassword == newPassword {
		return Failure(ValidationError(ErrCodeWeakPassword, "New password must be different from the old password", "newPassword"))
	}
	if authErr := a.getSignupPolicy().ValidatePassword(newPassword); authErr != nil {
		authErr.Field = "newPassword"
		return Failure(authErr)
	}

	user, err := a.Users.GetUserById(ctx, session.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return Failure(&AuthError{Kind: KindNotFound, Code: ErrCodeUserNotFound, Message: "User not found", Err: err})
	} else if err != nil {
		return a.internal("change password: user lookup failed", err)
	}

	if !user.HasPassword() {
		return Failure(ValidationError(ErrCodeInvalidCreds, "Invalid password", "password"))
	}
	if ok, _ := a.Hasher.Verify(user.PasswordHash, currentPassword); !ok {
		return Failure(ValidationError(ErrCodeInvalidCreds, "Invalid password", "password"))
	}

	passwordHash, err := a.Hasher.Hash(newPassword)
	if err != nil {
		return a.internal("change password: hashing failed", err)
	}
	if err := a.Users.UpdatePasswordHash(ctx, user.ID, passwordHash); err != nil {
		return a.internal("change password: update failed", err)
	}
	if err := a.Sessions.InvalidateUserSessions(ctx, user.ID); err != nil {
		return a.internal("change password: invalidate sessions failed", err)
	}

	fresh, err := a.Sessions.CreateSession(ctx, user.ID)
	if err != nil {
		return a.internal("change password: create session failed", err)
	}
	a.Logger.Info("password updated", zap.String("user_id", user.ID))
	out := Success("Password updated", a.Sessions.SessionCookie(fresh.ID))
	out.Session = fresh
	return out
}

// OAuthProfile is what an OAuth provider tells us about the user
type OAuthProfile struct {
	Provider    string
	ProviderID  string
	Email       string
	DisplayName string
	Username    string
	ImageURL    string
}

// EnsureOAuthUser finds the user with the profile's email or creates one.
// Provider emails are treated as verified.
func (a *AccountFlow) EnsureOAuthUser(ctx context.Context, profile OAuthProfile) (*User, error) {
	a.EnsureDefaults()
	email := strings.TrimSpace(profile.Email)
	if email == "" {
		return nil, ValidationError(ErrCodeMissingField, "OAuth provider did not return an email", "email")
	}

	user, err := a.Users.GetUserByEmail(ctx, NormalizeKey(email))
	if err == nil {
		if !user.EmailVerified {
			if err := a.Users.MarkEmailVerified(ctx, user.ID); err != nil {
				return nil, err
			}
			user.EmailVerified = true
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := a.Now()
	user = &User{
		ID:            newUserID(),
		Email:         email,
		DisplayName:   profile.DisplayName,
		ImageURL:      profile.ImageURL,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if profile.Username != "" {
		if _, err := a.Users.GetUserByUsername(ctx, NormalizeKey(profile.Username)); errors.Is(err, ErrUserNotFound) {
			user.Username = profile.Username
		}
	}
	if err := a.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return a.Users.GetUserByEmail(ctx, NormalizeKey(email))
		}
		return nil, err
	}
	a.Logger.Info("created oauth user", zap.String("user_id", user.ID), zap.String("provider", profile.Provider))
	return user, nil
}

// LoginOAuth resolves the OAuth user and starts a session for them
func (a *AccountFlow) LoginOAuth(ctx context.Context, profile OAuthProfile) Outcome {
	user, err := a.EnsureOAuthUser(ctx, profile)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return Failure(authErr)
		}
		return a.internal("oauth: ensure user failed", err)
	}
	return a.startSession(ctx, user.ID)
}

func invalidCredentials() *AuthError {
	return &AuthError{
		Kind:    KindUnauthorized,
		Code:    ErrCodeInvalidCreds,
		Message: "Invalid username or password",
		Field:   "password",
		Err:     ErrInvalidCredentials,
	}
}
