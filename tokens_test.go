package passlink_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
)

func TestTokenCodec_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := pl.NewTokenCodec([]byte(testSecret), "", clock.Now)

	token, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeEmailVerification, UserID: "u1", Email: "a@b.com", Code: "012345"}, pl.TokenTTL)
	require.NoError(t, err)

	claims, err := codec.Verify(token, pl.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "012345", claims.Code)
	assert.Equal(t, "passlink", claims.Issuer)
	assert.True(t, clock.Now().Add(pl.TokenTTL).Equal(claims.ExpiresAt.Time))
}

func TestTokenCodec_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		valid   bool
	}{
		{"fresh", 0, true},
		{"just before expiry", pl.TokenTTL - time.Second, true},
		{"at expiry", pl.TokenTTL, false},
		{"just after expiry", pl.TokenTTL + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			codec := pl.NewTokenCodec([]byte(testSecret), "", clock.Now)
			token, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u1"}, pl.TokenTTL)
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			_, err = codec.Verify(token, pl.PurposeMagicLink)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, pl.ErrInvalidToken)
			}
		})
	}
}

func TestTokenCodec_ExpiryBoundaryWithinSecond(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		valid   bool
	}{
		{"half a second before expiry", pl.TokenTTL - 500*time.Millisecond, true},
		{"a nanosecond before expiry", pl.TokenTTL - time.Nanosecond, true},
		{"at expiry", pl.TokenTTL, false},
		{"a millisecond after expiry", pl.TokenTTL + time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			clock.Advance(900 * time.Millisecond)
			signedAt := clock.Now()
			codec := pl.NewTokenCodec([]byte(testSecret), "", clock.Now)
			token, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u1"}, pl.TokenTTL)
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			claims, err := codec.Verify(token, pl.PurposeMagicLink)
			if !tt.valid {
				assert.ErrorIs(t, err, pl.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			exp, err := claims.GetExpirationTime()
			require.NoError(t, err)
			assert.True(t, signedAt.Add(pl.TokenTTL).Equal(exp.Time))
			assert.False(t, claims.ExpiresAt.Time.Before(exp.Time), "registered exp must not be earlier than the exact expiry")
		})
	}
}

func TestTokenCodec_PurposeMismatch(t *testing.T) {
	codec := pl.NewTokenCodec([]byte(testSecret), "", nil)
	token, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u1"}, pl.TokenTTL)
	require.NoError(t, err)

	_, err = codec.Verify(token, pl.PurposeEmailVerification)
	assert.ErrorIs(t, err, pl.ErrInvalidToken)
}

func TestTokenCodec_RejectsTampering(t *testing.T) {
	codec := pl.NewTokenCodec([]byte(testSecret), "", nil)
	token, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u1"}, pl.TokenTTL)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	t.Run("wrong secret", func(t *testing.T) {
		other := pl.NewTokenCodec([]byte("another-secret-another-secret-xx"), "", nil)
		_, err := other.Verify(token, pl.PurposeMagicLink)
		assert.ErrorIs(t, err, pl.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := pl.NewTokenCodec([]byte(testSecret), "someone-else", nil)
		_, err := other.Verify(token, pl.PurposeMagicLink)
		assert.ErrorIs(t, err, pl.ErrInvalidToken)
	})

	t.Run("swapped payload", func(t *testing.T) {
		forged, err := codec.Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u2"}, pl.TokenTTL)
		require.NoError(t, err)
		fparts := strings.Split(forged, ".")
		_, err = codec.Verify(parts[0]+"."+fparts[1]+"."+parts[2], pl.PurposeMagicLink)
		assert.ErrorIs(t, err, pl.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		for _, bad := range []string{"", "abc", "a.b.c", token + "x"} {
			_, err := codec.Verify(bad, pl.PurposeMagicLink)
			assert.ErrorIs(t, err, pl.ErrInvalidToken, bad)
		}
	})
}

func TestTokenCodec_SignRequiresUserAndSecret(t *testing.T) {
	_, err := pl.NewTokenCodec([]byte(testSecret), "", nil).Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink}, pl.TokenTTL)
	assert.Error(t, err)

	_, err = pl.NewTokenCodec(nil, "", nil).Sign(pl.TokenClaims{Purpose: pl.PurposeMagicLink, UserID: "u1"}, pl.TokenTTL)
	assert.Error(t, err)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := pl.GenerateCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', code)
		}
	}
}

func TestMagicLinkIsExpired(t *testing.T) {
	now := time.Now()
	link := &pl.MagicLink{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, link.IsExpired(now))
	assert.True(t, link.IsExpired(now.Add(time.Minute)))
}
