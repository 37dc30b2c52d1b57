package passlink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
)

func TestMagicLink_CreatesPasswordlessUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.magicLinks.RequestLink(ctx, "  new@b.com ")
	require.True(t, res.OK(), "request failed: %v", res.Err)
	assert.Equal(t, "Magic link sent successfully", res.Message)

	user, err := env.users.GetUserByEmail(ctx, "new@b.com")
	require.NoError(t, err)
	assert.Empty(t, user.Username)
	assert.False(t, user.HasPassword())
	assert.False(t, user.EmailVerified)

	email := env.email.LastEmail("new@b.com")
	require.NotNil(t, email)
	assert.Equal(t, "Your sign-in link", email.Subject)
	assert.Contains(t, email.HTML, "http://localhost:8080/api/magic-link?token=")

	latest, err := env.links.LatestLink(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, latest.ExpiresAt.Equal(env.clock.Now().Add(pl.TokenTTL)))
	assert.Equal(t, latest.Token, env.lastToken(t, "new@b.com"))
}

func TestMagicLink_ExistingUserGetsSameAnswer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "ab_12", "a@b.com")

	res := env.magicLinks.RequestLink(ctx, "A@B.com")
	require.True(t, res.OK())
	assert.Equal(t, "Magic link sent successfully", res.Message)

	claims, err := env.codec.Verify(env.lastToken(t, "A@B.com"), pl.PurposeMagicLink)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestMagicLink_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)
	for _, bad := range []string{"", "   ", "not-an-email", "a@b"} {
		res := env.magicLinks.RequestLink(context.Background(), bad)
		require.False(t, res.OK(), bad)
		assert.Equal(t, pl.KindValidation, res.Err.Kind)
		assert.Equal(t, "email", res.Err.Field)
	}
}

func TestMagicLink_RedeemIsOneShot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	token := env.lastToken(t, "m@b.com")

	result, err := env.magicLinks.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, pl.PurposeMagicLink, result.Purpose)

	user, err := env.users.GetUserById(ctx, result.UserID)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	_, err = env.magicLinks.Redeem(ctx, token)
	assert.ErrorIs(t, err, pl.ErrInvalidToken)
}

func TestMagicLink_RedeemInvalidatesEveryLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	first := env.lastToken(t, "m@b.com")
	env.clock.Advance(pl.DefaultMagicLinkCooldown)
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	second := env.lastToken(t, "m@b.com")
	require.NotEqual(t, first, second)

	result, err := env.magicLinks.Redeem(ctx, second)
	require.NoError(t, err)

	_, err = env.links.LatestLink(ctx, result.UserID)
	assert.ErrorIs(t, err, pl.ErrLinkNotFound)

	_, err = env.magicLinks.Redeem(ctx, first)
	assert.ErrorIs(t, err, pl.ErrInvalidToken)
}

func TestMagicLink_RequestCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	sent := env.email.Count()

	env.clock.Advance(15 * time.Second)
	res := env.magicLinks.RequestLink(ctx, "m@b.com")
	require.False(t, res.OK())
	assert.Equal(t, pl.KindRateLimited, res.Err.Kind)
	assert.Equal(t, 45, res.Err.RemainingSeconds)
	assert.Equal(t, sent, env.email.Count())

	env.clock.Advance(45 * time.Second)
	assert.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	assert.Equal(t, sent+1, env.email.Count())
}

func TestMagicLink_CooldownDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.magicLinks.RequestCooldown = -1

	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	assert.Equal(t, 2, env.email.Count())
}

func TestMagicLink_RedeemExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	token := env.lastToken(t, "m@b.com")

	env.clock.Advance(pl.TokenTTL)
	_, err := env.magicLinks.Redeem(ctx, token)
	assert.ErrorIs(t, err, pl.ErrInvalidToken)
}

func TestMagicLink_RedeemRejectsVerificationToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ab_12", "a@b.com")

	_, err := env.magicLinks.Redeem(ctx, env.lastToken(t, "a@b.com"))
	assert.ErrorIs(t, err, pl.ErrInvalidToken)
}

func TestMagicLink_ConcurrentRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())
	token := env.lastToken(t, "m@b.com")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.magicLinks.Redeem(ctx, token)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, pl.ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, succeeded)
}
