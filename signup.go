package passlink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// AccountFlow handles password accounts: signup, login, logout and password change.
// Every operation returns an Outcome for the HTTP layer to interpret.
type AccountFlow struct {
	Users        UserStore
	Sessions     *SessionManager
	Hasher       PasswordHasher
	Verification *VerificationFlow
	Logger       *zap.Logger

	// SignupPolicy defaults to DefaultSignupPolicy()
	SignupPolicy *SignupPolicy

	// Whether email verification is required before login
	RequireEmailVerification bool

	// Where to send the browser after signup/login and after logout
	HomeURL  string
	LoginURL string

	Now func() time.Time
}

func (a *AccountFlow) EnsureDefaults() *AccountFlow {
	if a.Hasher == nil {
		a.Hasher = NewArgon2Hasher()
	}
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	if a.HomeURL == "" {
		a.HomeURL = "/"
	}
	if a.LoginURL == "" {
		a.LoginURL = "/login"
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	return a
}

func (a *AccountFlow) getSignupPolicy() SignupPolicy {
	if a.SignupPolicy != nil {
		return *a.SignupPolicy
	}
	return DefaultSignupPolicy()
}

// Signup creates an unverified password account, sends the verification
// email and signs the new user in.
func (a *AccountFlow) Signup(ctx context.Context, in SignupInput) Outcome {
	a.EnsureDefaults()
	in.Normalize()
	if authErr := a.getSignupPolicy().Validate(in); authErr != nil {
		return Failure(authErr)
	}

	if _, err := a.Users.GetUserByUsername(ctx, NormalizeKey(in.Username)); err == nil {
		return Failure(takenError(ErrUsernameTaken))
	} else if !errors.Is(err, ErrUserNotFound) {
		return a.internal("signup: username lookup failed", err)
	}
	if _, err := a.Users.GetUserByEmail(ctx, NormalizeKey(in.Email)); err == nil {
		return Failure(takenError(ErrEmailTaken))
	} else if !errors.Is(err, ErrUserNotFound) {
		return a.internal("signup: email lookup failed", err)
	}

	passwordHash, err := a.Hasher.Hash(in.Password)
	if err != nil {
		return a.internal("signup: hashing failed", err)
	}

	now := a.Now()
	user := &User{
		ID:           newUserID(),
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return Failure(takenError(err))
		}
		return a.internal("signup: create user failed", err)
	}
	a.Logger.Info("created local user", zap.String("user_id", user.ID))

	if a.Verification != nil {
		if _, err := a.Verification.Issue(ctx, user); err != nil {
			// the account exists; the user can ask for a new code later
			a.Logger.Error("signup: issuing verification code failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return a.startSession(ctx, user.ID)
}

func (a *AccountFlow) startSession(ctx context.Context, userID string) Outcome {
	session, err := a.Sessions.CreateSession(ctx, userID)
	if err != nil {
		return a.internal("create session failed", err)
	}
	out := Redirect(a.HomeURL, a.Sessions.SessionCookie(session.ID))
	out.Session = session
	return out
}

func (a *AccountFlow) internal(msg string, err error) Outcome {
	a.Logger.Error(msg, zap.Error(err))
	return Failure(InternalError(err))
}

func takenError(err error) *AuthError {
	if errors.Is(err, ErrUsernameTaken) {
		return &AuthError{Kind: KindConflict, Code: ErrCodeUsernameTaken, Message: "Username is already taken", Field: "username", Err: ErrUsernameTaken}
	}
	return &AuthError{Kind: KindConflict, Code: ErrCodeEmailExists, Message: "Email is already taken", Field: "email", Err: ErrEmailTaken}
}
