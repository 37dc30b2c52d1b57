package passlink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose scopes a signed token to one flow
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposeMagicLink         Purpose = "magic_link"
)

// TokenTTL is the lifetime of both verification and magic-link tokens
const TokenTTL = 5 * time.Minute

// TokenClaims is the payload carried by a signed token
type TokenClaims struct {
	Purpose Purpose `json:"purpose"`
	UserID  string  `json:"userId"`
	Email   string  `json:"email,omitempty"`
	Code    string  `json:"code,omitempty"`
	// ExpiresAtNanos is the exact expiry. The registered exp claim only has
	// whole seconds and is rounded up.
	ExpiresAtNanos int64 `json:"expNanos,omitempty"`
	jwt.RegisteredClaims
}

// GetExpirationTime prefers the exact expiry over the registered claim
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAtNanos > 0 {
		return &jwt.NumericDate{Time: time.Unix(0, c.ExpiresAtNanos)}, nil
	}
	return c.RegisteredClaims.GetExpirationTime()
}

// TokenCodec signs and verifies compact, time-boxed tokens.
//
// Verification failures are deliberately collapsed into ErrInvalidToken so
// callers cannot tell a forged token from an expired one.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenCodec creates a codec for the given HMAC secret. A nil clock means time.Now.
func NewTokenCodec(secret []byte, issuer string, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	if issuer == "" {
		issuer = "passlink"
	}
	return &TokenCodec{secret: secret, issuer: issuer, now: now}
}

// Sign returns an HS256 token for claims that expires after ttl
func (c *TokenCodec) Sign(claims TokenClaims, ttl time.Duration) (string, error) {
	if claims.UserID == "" {
		return "", fmt.Errorf("token claims require a user id")
	}
	if len(c.secret) == 0 {
		return "", fmt.Errorf("token secret not configured")
	}
	now := c.now()
	expiry := now.Add(ttl)
	claims.ExpiresAtNanos = expiry.UnixNano()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(ceilSecond(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ceilSecond(t time.Time) time.Time {
	if s := t.Truncate(time.Second); s.Before(t) {
		return s.Add(time.Second)
	}
	return t
}

// Verify checks signature, expiry and purpose and returns the claims
func (c *TokenCodec) Verify(tokenString string, purpose Purpose) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateCode returns a uniformly random 6-digit code, zero padded
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsExpired reports whether a magic link has passed its expiry at now
func (l *MagicLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Age returns how long ago the code was (re)issued
func (c *VerificationCode) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
