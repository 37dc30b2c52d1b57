package passlink

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex        = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	lowerRegex        = regexp.MustCompile(`[a-z]`)
	upperRegex        = regexp.MustCompile(`[A-Z]`)
	digitRegex        = regexp.MustCompile(`\d`)
	specialCharsRegex = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
)

// SignupInput is what a signup form submits
type SignupInput struct {
	DisplayName     string `json:"displayName"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Normalize trims every field
func (in *SignupInput) Normalize() {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Password = strings.TrimSpace(in.Password)
	in.ConfirmPassword = strings.TrimSpace(in.ConfirmPassword)
}

// SignupPolicy defines what a valid signup looks like
type SignupPolicy struct {
	RequireDisplayName bool
	MinUsernameLength  int
	MaxUsernameLength  int
	MinPasswordLength  int

	// StrongPasswords requires 12+ characters with lower, upper, digit and special
	StrongPasswords bool
}

// DefaultSignupPolicy requires a display name and strong passwords
func DefaultSignupPolicy() SignupPolicy {
	return SignupPolicy{
		RequireDisplayName: true,
		MinUsernameLength:  3,
		MaxUsernameLength:  32,
		MinPasswordLength:  8,
		StrongPasswords:    true,
	}
}

// PolicyBasic only enforces the 8 character password minimum
var PolicyBasic = SignupPolicy{
	MinUsernameLength: 3,
	MaxUsernameLength: 32,
	MinPasswordLength: 8,
}

func (p SignupPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength > 0 {
		return p.MinPasswordLength
	}
	return 8
}

// Validate checks a normalized signup input and returns the first failing field
func (p SignupPolicy) Validate(in SignupInput) *AuthError {
	if p.RequireDisplayName && in.DisplayName == "" {
		return ValidationError(ErrCodeInvalidName, "Display name must be at least 1 character", "displayName")
	}
	if authErr := p.ValidateUsername(in.Username); authErr != nil {
		return authErr
	}
	if authErr := ValidateEmail(in.Email); authErr != nil {
		return authErr
	}
	if authErr := p.ValidatePassword(in.Password); authErr != nil {
		return authErr
	}
	if in.Password != in.ConfirmPassword {
		return ValidationError(ErrCodePasswordMismatch, "Passwords do not match", "confirmPassword")
	}
	return nil
}

func (p SignupPolicy) ValidateUsername(username string) *AuthError {
	minLen, maxLen := p.MinUsernameLength, p.MaxUsernameLength
	if minLen <= 0 {
		minLen = 3
	}
	if len(username) < minLen {
		return ValidationError(ErrCodeInvalidUsername, fmt.Sprintf("Username must be at least %d characters long", minLen), "username")
	}
	if maxLen > 0 && len(username) > maxLen {
		return ValidationError(ErrCodeInvalidUsername, fmt.Sprintf("Username must be at most %d characters long", maxLen), "username")
	}
	if !usernameRegex.MatchString(username) {
		return ValidationError(ErrCodeInvalidUsername, "Username can only contain letters, numbers, underscores, and hyphens", "username")
	}
	return nil
}

// ValidatePassword reports every rule the password fails, joined into one message
func (p SignupPolicy) ValidatePassword(password string) *AuthError {
	var failed []string
	if minLen := p.GetMinPasswordLength(); len(password) < minLen && !(p.StrongPasswords && minLen <= 12) {
		failed = append(failed, fmt.Sprintf("Password must be at least %d characters long", minLen))
	}
	if p.StrongPasswords {
		if len(password) < 12 {
			failed = append(failed, "Password must be at least 12 characters long")
		}
		if !lowerRegex.MatchString(password) {
			failed = append(failed, "Password must contain at least one lowercase letter")
		}
		if !upperRegex.MatchString(password) {
			failed = append(failed, "Password must contain at least one uppercase letter")
		}
		if !digitRegex.MatchString(password) {
			failed = append(failed, "Password must contain at least one number")
		}
		if !specialCharsRegex.MatchString(password) {
			failed = append(failed, "Password must contain at least one special character")
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return ValidationError(ErrCodeWeakPassword, strings.Join(failed, "; "), "password")
}

// ValidateEmail checks the format of a trimmed email
func ValidateEmail(email string) *AuthError {
	if email == "" {
		return ValidationError(ErrCodeMissingField, "Email is required", "email")
	}
	if !emailRegex.MatchString(email) {
		return ValidationError(ErrCodeInvalidEmail, "Invalid email address", "email")
	}
	return nil
}

// DetectUsernameType tells an email identifier from a username
func DetectUsernameType(identifier string) string {
	if strings.Contains(identifier, "@") {
		return "email"
	}
	return "username"
}
