package passlink

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrCodeNotFound       = errors.New("verification code not found")
	ErrLinkNotFound       = errors.New("magic link not found")
	ErrCooldownActive     = errors.New("cooldown active")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ErrorKind classifies an AuthError for callers and the HTTP layer
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
	KindInvalidToken
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidToken:
		return "invalid_token"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error codes reported alongside messages
const (
	ErrCodeMissingField     = "missing_field"
	ErrCodeInvalidUsername  = "invalid_username"
	ErrCodeInvalidEmail     = "invalid_email"
	ErrCodeWeakPassword     = "weak_password"
	ErrCodePasswordMismatch = "password_mismatch"
	ErrCodeInvalidName      = "invalid_display_name"
	ErrCodeUsernameTaken    = "username_taken"
	ErrCodeEmailExists      = "email_exists"
	ErrCodeInvalidCreds     = "invalid_credentials"
	ErrCodeEmailNotVerified = "email_not_verified"
	ErrCodeUserNotFound     = "user_not_found"
	ErrCodeAlreadyVerified  = "already_verified"
	ErrCodeNoActiveCode     = "code_not_found"
	ErrCodeCooldown         = "cooldown_active"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeInternal         = "internal_error"
)

// AuthError is the error type returned by every flow
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string

	// RemainingSeconds is set for KindRateLimited
	RemainingSeconds int

	Err error
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status
func (e *AuthError) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindInvalidToken, KindNotFound:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NewAuthError creates a new AuthError
func NewAuthError(kind ErrorKind, code, message, field string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message, Field: field}
}

// ValidationError reports a per-field input violation
func ValidationError(code, message, field string) *AuthError {
	return NewAuthError(KindValidation, code, message, field)
}

// InvalidTokenError is the single message for every token failure
func InvalidTokenError() *AuthError {
	return &AuthError{Kind: KindInvalidToken, Code: ErrCodeInvalidToken, Message: "Invalid token", Err: ErrInvalidToken}
}

// UnauthorizedError is returned when a session-requiring action has no session
func UnauthorizedError() *AuthError {
	return &AuthError{Kind: KindUnauthorized, Code: ErrCodeUnauthorized, Message: "Unauthorized", Err: ErrUnauthorized}
}

// CooldownError reports a rate-limited request with the seconds left to wait
func CooldownError(message string, remainingSeconds int) *AuthError {
	return &AuthError{
		Kind:             KindRateLimited,
		Code:             ErrCodeCooldown,
		Message:          message,
		RemainingSeconds: remainingSeconds,
		Err:              ErrCooldownActive,
	}
}

// InternalError hides err behind a generic message
func InternalError(err error) *AuthError {
	return &AuthError{Kind: KindInternal, Code: ErrCodeInternal, Message: "Something went wrong", Err: err}
}

// AsAuthError converts any error into an AuthError, degrading unknown ones to KindInternal
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	if errors.Is(err, ErrInvalidToken) {
		return InvalidTokenError()
	}
	return InternalError(err)
}
