package passlink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMagicLinkCooldown is the minimum time between two links for the same user
const DefaultMagicLinkCooldown = 60 * time.Second

// MagicLinkFlow signs users in through emailed links. Unknown emails get a
// passwordless account on first request. Redeeming any of a user's links
// deletes all of them, so a user has a single active credential at a time.
type MagicLinkFlow struct {
	Codec   *TokenCodec
	Users   UserStore
	Links   MagicLinkStore
	Email   SendEmail
	Locker  Locker
	BaseURL string
	Logger  *zap.Logger
	Metrics *Metrics

	// RequestCooldown rejects a new request while the latest link is younger
	// than this. Negative disables the check. Zero means DefaultMagicLinkCooldown.
	RequestCooldown time.Duration

	Now func() time.Time
}

func (f *MagicLinkFlow) EnsureDefaults() *MagicLinkFlow {
	if f.RequestCooldown == 0 {
		f.RequestCooldown = DefaultMagicLinkCooldown
	}
	if f.Locker == nil {
		f.Locker = NewKeyedMutex()
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.Now == nil {
		f.Now = time.Now
	}
	return f
}

// MagicLinkURL builds the link that redeems token
func (f *MagicLinkFlow) MagicLinkURL(token string) string {
	return fmt.Sprintf("%s/api/magic-link?token=%s", strings.TrimSuffix(f.BaseURL, "/"), url.QueryEscape(token))
}

// RequestLink issues and emails a sign-in link. The answer is the same
// whether or not the account already existed.
func (f *MagicLinkFlow) RequestLink(ctx context.Context, email string) Result {
	f.EnsureDefaults()
	email = strings.TrimSpace(email)
	if authErr := ValidateEmail(email); authErr != nil {
		return resultErr(authErr)
	}

	user, err := f.findOrCreateUser(ctx, email)
	if err != nil {
		return f.internal("magic link: user lookup failed", err)
	}

	unlock, err := f.Locker.Lock(ctx, lockKey(PurposeMagicLink, user.ID))
	if err != nil {
		return f.internal("magic link: lock failed", err)
	}
	link, cooldown, err := f.issue(ctx, user)
	unlock()
	if err != nil {
		return f.internal("magic link: issue failed", err)
	}
	if cooldown > 0 {
		remaining := remainingSeconds(cooldown)
		f.Metrics.cooldownRejected(PurposeMagicLink)
		return resultErr(CooldownError(
			fmt.Sprintf("Magic link was already sent recently. Please wait %d seconds before trying again.", remaining),
			remaining))
	}

	if f.Email != nil {
		deliver(ctx, f.Logger, f.Metrics, PurposeMagicLink, func(ctx context.Context) error {
			return f.Email.SendMagicLinkEmail(ctx, email, link)
		})
	}
	f.Logger.Info("magic link issued", zap.String("user_id", user.ID))
	return resultOK("Magic link sent successfully")
}

// issue runs under the user's lock. A positive wait means the cooldown is active.
func (f *MagicLinkFlow) issue(ctx context.Context, user *User) (link string, wait time.Duration, err error) {
	now := f.Now()
	if f.RequestCooldown > 0 {
		latest, err := f.Links.LatestLink(ctx, user.ID)
		if err != nil && !errors.Is(err, ErrLinkNotFound) {
			return "", 0, err
		}
		if latest != nil {
			if elapsed := now.Sub(latest.CreatedAt); elapsed < f.RequestCooldown {
				return "", f.RequestCooldown - elapsed, nil
			}
		}
	}

	token, err := f.Codec.Sign(TokenClaims{Purpose: PurposeMagicLink, UserID: user.ID, Email: user.Email}, TokenTTL)
	if err != nil {
		return "", 0, err
	}
	err = f.Links.CreateLink(ctx, &MagicLink{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(TokenTTL),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to save magic link: %w", err)
	}
	f.Metrics.tokenIssued(PurposeMagicLink)
	return f.MagicLinkURL(token), 0, nil
}

// Redeem consumes a magic-link token and every other link of the same user.
// Redeeming proves ownership of the mailbox so the email is marked verified.
func (f *MagicLinkFlow) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	f.EnsureDefaults()
	claims, err := f.Codec.Verify(token, PurposeMagicLink)
	if err != nil {
		f.Metrics.redeemed(PurposeMagicLink, ResultInvalid)
		return nil, InvalidTokenError()
	}

	unlock, err := f.Locker.Lock(ctx, lockKey(PurposeMagicLink, claims.UserID))
	if err != nil {
		return nil, f.redeemFailed("lock failed", err)
	}
	defer unlock()

	active, err := f.Links.HasActiveLink(ctx, claims.UserID, f.Now())
	if err != nil {
		return nil, f.redeemFailed("link lookup failed", err)
	}
	if !active {
		f.Metrics.redeemed(PurposeMagicLink, ResultInvalid)
		return nil, InvalidTokenError()
	}

	deleted, err := f.Links.DeleteUserLinks(ctx, claims.UserID)
	if err != nil {
		return nil, f.redeemFailed("delete links failed", err)
	}
	if deleted == 0 {
		f.Metrics.redeemed(PurposeMagicLink, ResultInvalid)
		return nil, InvalidTokenError()
	}

	if err := f.Users.MarkEmailVerified(ctx, claims.UserID); err != nil {
		return nil, f.redeemFailed("mark verified failed", err)
	}
	f.Metrics.redeemed(PurposeMagicLink, ResultSuccess)
	f.Logger.Info("magic link redeemed", zap.String("user_id", claims.UserID))
	return &RedeemResult{UserID: claims.UserID, Purpose: PurposeMagicLink}, nil
}

func (f *MagicLinkFlow) findOrCreateUser(ctx context.Context, email string) (*User, error) {
	user, err := f.Users.GetUserByEmail(ctx, NormalizeKey(email))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := f.Now()
	user = &User{
		ID:        newUserID(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = f.Users.CreateUser(ctx, user)
	if errors.Is(err, ErrEmailTaken) {
		// created by a concurrent request for the same email
		return f.Users.GetUserByEmail(ctx, NormalizeKey(email))
	} else if err != nil {
		return nil, err
	}
	f.Logger.Info("created passwordless user", zap.String("user_id", user.ID))
	return user, nil
}

func (f *MagicLinkFlow) internal(msg string, err error) Result {
	f.Logger.Error(msg, zap.Error(err))
	return resultErr(InternalError(err))
}

func (f *MagicLinkFlow) redeemFailed(msg string, err error) *AuthError {
	f.Logger.Error("magic link redeem: "+msg, zap.Error(err))
	f.Metrics.redeemed(PurposeMagicLink, ResultError)
	return InternalError(err)
}

func lockKey(purpose Purpose, userID string) string {
	return string(purpose) + ":" + userID
}
