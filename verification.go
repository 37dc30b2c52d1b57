package passlink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultVerificationCooldown is the minimum time between two verification emails
const DefaultVerificationCooldown = 120 * time.Second

// VerificationFlow issues, re-issues and redeems email verification codes.
// Each user has at most one active code. The code is stored server side and
// also embedded in the signed token that goes out in the email.
type VerificationFlow struct {
	Codec   *TokenCodec
	Users   UserStore
	Codes   VerificationCodeStore
	Email   SendEmail
	BaseURL string
	Logger  *zap.Logger
	Metrics *Metrics

	// Cooldown between resends, measured from the stored code's CreatedAt
	Cooldown time.Duration

	// RequireCodeMatch makes Redeem also check that the token's code equals
	// the stored code and that the stored code is younger than TokenTTL.
	RequireCodeMatch bool

	Now func() time.Time
}

func (f *VerificationFlow) EnsureDefaults() *VerificationFlow {
	if f.Cooldown <= 0 {
		f.Cooldown = DefaultVerificationCooldown
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.Now == nil {
		f.Now = time.Now
	}
	return f
}

// VerificationURL builds the link that redeems token
func (f *VerificationFlow) VerificationURL(token string) string {
	return fmt.Sprintf("%s/api/verify-email?token=%s", strings.TrimSuffix(f.BaseURL, "/"), url.QueryEscape(token))
}

// Issue creates the user's sole active code, replacing any prior one, and
// emails the verification link. The link is returned for callers that need it.
func (f *VerificationFlow) Issue(ctx context.Context, user *User) (string, error) {
	f.EnsureDefaults()
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	if err := f.Codes.SaveCode(ctx, &VerificationCode{UserID: user.ID, Code: code, CreatedAt: f.Now()}); err != nil {
		return "", fmt.Errorf("failed to save verification code: %w", err)
	}
	link, err := f.signAndSend(ctx, user, code)
	if err != nil {
		return "", err
	}
	f.Logger.Info("verification code issued", zap.String("user_id", user.ID))
	return link, nil
}

// Resend re-issues the code for the user with the given email, unless the
// cooldown since the current code was issued has not yet passed.
func (f *VerificationFlow) Resend(ctx context.Context, email string) Result {
	f.EnsureDefaults()
	user, err := f.Users.GetUserByEmail(ctx, NormalizeKey(email))
	if errors.Is(err, ErrUserNotFound) {
		return resultErr(&AuthError{Kind: KindNotFound, Code: ErrCodeUserNotFound, Message: "User not found", Field: "email", Err: err})
	} else if err != nil {
		return f.internal("resend: user lookup failed", err)
	}
	if user.EmailVerified {
		return resultErr(&AuthError{Kind: KindConflict, Code: ErrCodeAlreadyVerified, Message: "Email already verified", Err: ErrAlreadyVerified})
	}

	current, err := f.Codes.GetCode(ctx, user.ID)
	if errors.Is(err, ErrCodeNotFound) {
		return resultErr(&AuthError{Kind: KindNotFound, Code: ErrCodeNoActiveCode, Message: "Code not found", Err: err})
	} else if err != nil {
		return f.internal("resend: code lookup failed", err)
	}

	now := f.Now()
	if elapsed := current.Age(now); elapsed < f.Cooldown {
		return f.cooldown(remainingSeconds(f.Cooldown - elapsed))
	}

	code, err := GenerateCode()
	if err != nil {
		return f.internal("resend: code generation failed", err)
	}
	swapped, err := f.Codes.ReplaceCode(ctx, user.ID, current.Version, code, now)
	if err != nil {
		return f.internal("resend: replace code failed", err)
	}
	if !swapped {
		// a concurrent resend got there first and has already sent an email
		return f.cooldown(remainingSeconds(f.Cooldown))
	}

	if _, err := f.signAndSend(ctx, user, code); err != nil {
		return f.internal("resend: signing failed", err)
	}
	f.Logger.Info("verification code resent", zap.String("user_id", user.ID))
	return resultOK("Verification email resent successfully")
}

// Redeem consumes a verification token. On success the user's code rows are
// gone and the email is marked verified; the caller creates the session.
func (f *VerificationFlow) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	f.EnsureDefaults()
	claims, err := f.Codec.Verify(token, PurposeEmailVerification)
	if err != nil {
		f.Metrics.redeemed(PurposeEmailVerification, ResultInvalid)
		return nil, InvalidTokenError()
	}

	stored, err := f.Codes.GetCode(ctx, claims.UserID)
	if errors.Is(err, ErrCodeNotFound) {
		f.Metrics.redeemed(PurposeEmailVerification, ResultInvalid)
		return nil, InvalidTokenError()
	} else if err != nil {
		return nil, f.redeemFailed("code lookup failed", err)
	}

	if f.RequireCodeMatch && (stored.Code != claims.Code || stored.Age(f.Now()) > TokenTTL) {
		f.Metrics.redeemed(PurposeEmailVerification, ResultInvalid)
		return nil, InvalidTokenError()
	}

	// Mark before deleting so a failed mark leaves the code redeemable.
	// Marking twice is harmless; the delete count decides the winner.
	if err := f.Users.MarkEmailVerified(ctx, claims.UserID); err != nil {
		return nil, f.redeemFailed("mark verified failed", err)
	}
	deleted, err := f.Codes.DeleteUserCodes(ctx, claims.UserID)
	if err != nil {
		return nil, f.redeemFailed("delete codes failed", err)
	}
	if deleted == 0 {
		// consumed by a concurrent redemption
		f.Metrics.redeemed(PurposeEmailVerification, ResultInvalid)
		return nil, InvalidTokenError()
	}
	f.Metrics.redeemed(PurposeEmailVerification, ResultSuccess)
	f.Logger.Info("email verified", zap.String("user_id", claims.UserID))
	return &RedeemResult{UserID: claims.UserID, Purpose: PurposeEmailVerification}, nil
}

func (f *VerificationFlow) signAndSend(ctx context.Context, user *User, code string) (string, error) {
	token, err := f.Codec.Sign(TokenClaims{
		Purpose: PurposeEmailVerification,
		UserID:  user.ID,
		Email:   user.Email,
		Code:    code,
	}, TokenTTL)
	if err != nil {
		return "", err
	}
	f.Metrics.tokenIssued(PurposeEmailVerification)
	link := f.VerificationURL(token)
	if f.Email != nil {
		deliver(ctx, f.Logger, f.Metrics, PurposeEmailVerification, func(ctx context.Context) error {
			return f.Email.SendVerificationEmail(ctx, user.Email, link)
		})
	}
	return link, nil
}

func (f *VerificationFlow) cooldown(remaining int) Result {
	f.Metrics.cooldownRejected(PurposeEmailVerification)
	return resultErr(CooldownError(
		fmt.Sprintf("Please wait %d seconds before requesting a new verification email.", remaining),
		remaining))
}

func (f *VerificationFlow) internal(msg string, err error) Result {
	f.Logger.Error(msg, zap.Error(err))
	return resultErr(InternalError(err))
}

func (f *VerificationFlow) redeemFailed(msg string, err error) *AuthError {
	f.Logger.Error("verification redeem: "+msg, zap.Error(err))
	f.Metrics.redeemed(PurposeEmailVerification, ResultError)
	return InternalError(err)
}

// remainingSeconds rounds a positive wait up to whole seconds
func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
