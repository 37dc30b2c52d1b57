package passlink_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
)

const testPassword = "Aa1!aaaaaaaa"

func signupInput(username, email string) pl.SignupInput {
	return pl.SignupInput{
		DisplayName:     "Test User",
		Username:        username,
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	}
}

func TestSignup_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*pl.SignupInput)
		field  string
		code   string
	}{
		{"missing display name", func(in *pl.SignupInput) { in.DisplayName = "  " }, "displayName", pl.ErrCodeInvalidName},
		{"short username", func(in *pl.SignupInput) { in.Username = "ab" }, "username", pl.ErrCodeInvalidUsername},
		{"bad username chars", func(in *pl.SignupInput) { in.Username = "a b.c" }, "username", pl.ErrCodeInvalidUsername},
		{"bad email", func(in *pl.SignupInput) { in.Email = "not-an-email" }, "email", pl.ErrCodeInvalidEmail},
		{"weak password", func(in *pl.SignupInput) { in.Password, in.ConfirmPassword = "password", "password" }, "password", pl.ErrCodeWeakPassword},
		{"mismatch", func(in *pl.SignupInput) { in.ConfirmPassword = "Aa1!aaaaaaab" }, "confirmPassword", pl.ErrCodePasswordMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := signupInput("ab_12", "a@b.com")
			tt.mutate(&in)

			out := env.accounts.Signup(context.Background(), in)
			require.True(t, out.IsError())
			assert.Equal(t, pl.KindValidation, out.Err.Kind)
			assert.Equal(t, tt.field, out.Err.Field)
			assert.Equal(t, tt.code, out.Err.Code)
			assert.Zero(t, env.email.Count())
		})
	}
}

func TestSignup_WeakPasswordListsEveryRule(t *testing.T) {
	authErr := pl.DefaultSignupPolicy().ValidatePassword("abc")
	require.NotNil(t, authErr)
	assert.Contains(t, authErr.Message, "at least 12 characters")
	assert.Contains(t, authErr.Message, "uppercase")
	assert.Contains(t, authErr.Message, "number")
	assert.Contains(t, authErr.Message, "special character")
	assert.NotContains(t, authErr.Message, "lowercase")

	assert.Nil(t, pl.PolicyBasic.ValidatePassword("password"))
	assert.NotNil(t, pl.PolicyBasic.ValidatePassword("short"))
}

func TestSignup_Conflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ab_12", "a@b.com")

	out := env.accounts.Signup(ctx, signupInput("AB_12", "other@b.com"))
	require.True(t, out.IsError())
	assert.Equal(t, pl.KindConflict, out.Err.Kind)
	assert.Equal(t, "username", out.Err.Field)
	assert.ErrorIs(t, out.Err, pl.ErrUsernameTaken)

	out = env.accounts.Signup(ctx, signupInput("other", "A@B.COM"))
	require.True(t, out.IsError())
	assert.Equal(t, pl.KindConflict, out.Err.Kind)
	assert.Equal(t, "email", out.Err.Field)
	assert.ErrorIs(t, out.Err, pl.ErrEmailTaken)
}

func TestSignup_StartsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out := env.accounts.Signup(ctx, signupInput("ab_12", "a@b.com"))
	require.False(t, out.IsError())
	assert.Equal(t, pl.OutcomeRedirect, out.Kind)
	assert.Equal(t, "/", out.Location)
	require.NotNil(t, out.Cookie)
	require.NotNil(t, out.Session)
	assert.Equal(t, out.Session.ID, out.Cookie.Value)

	session, err := env.sessions.ValidateSession(ctx, out.Cookie.Value)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "ab_12", session.User.Username)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "ab_12", "a@b.com")

	for _, identifier := range []string{"ab_12", "AB_12", "a@b.com", " A@B.com "} {
		out := env.accounts.Login(ctx, identifier, testPassword)
		require.False(t, out.IsError(), "login with %q: %v", identifier, out.Err)
		assert.Equal(t, pl.OutcomeRedirect, out.Kind)
		assert.Equal(t, user.ID, out.Session.UserID)
	}

	for _, tc := range []struct{ identifier, password string }{
		{"ab_12", "Aa1!aaaaaaab"},
		{"nobody", testPassword},
		{"nobody@b.com", testPassword},
	} {
		out := env.accounts.Login(ctx, tc.identifier, tc.password)
		require.True(t, out.IsError())
		assert.Equal(t, pl.KindUnauthorized, out.Err.Kind)
		assert.Equal(t, "Invalid username or password", out.Err.Message)
		assert.ErrorIs(t, out.Err, pl.ErrInvalidCredentials)
	}

	out := env.accounts.Login(ctx, "", testPassword)
	require.True(t, out.IsError())
	assert.Equal(t, pl.KindValidation, out.Err.Kind)
	assert.Equal(t, "username", out.Err.Field)

	out = env.accounts.Login(ctx, "ab_12", "  ")
	require.True(t, out.IsError())
	assert.Equal(t, "password", out.Err.Field)
}

func TestLogin_PasswordlessUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.magicLinks.RequestLink(ctx, "m@b.com").OK())

	out := env.accounts.Login(ctx, "m@b.com", testPassword)
	require.True(t, out.IsError())
	assert.ErrorIs(t, out.Err, pl.ErrInvalidCredentials)
}

func TestLogin_RequireEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accounts.RequireEmailVerification = true
	env.signup(t, "ab_12", "a@b.com")

	out := env.accounts.Login(ctx, "ab_12", testPassword)
	require.True(t, out.IsError())
	assert.Equal(t, pl.ErrCodeEmailNotVerified, out.Err.Code)

	_, err := env.verification.Redeem(ctx, env.lastToken(t, "a@b.com"))
	require.NoError(t, err)
	out = env.accounts.Login(ctx, "ab_12", testPassword)
	assert.False(t, out.IsError())
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ab_12", "a@b.com")
	login := env.accounts.Login(ctx, "ab_12", testPassword)
	require.False(t, login.IsError())

	out := env.accounts.Logout(ctx, login.Session.ID)
	require.False(t, out.IsError())
	assert.Equal(t, pl.OutcomeRedirect, out.Kind)
	assert.Equal(t, "/login", out.Location)
	assert.Equal(t, -1, out.Cookie.MaxAge)

	session, err := env.sessions.ValidateSession(ctx, login.Session.ID)
	require.NoError(t, err)
	assert.Nil(t, session)

	out = env.accounts.Logout(ctx, login.Session.ID)
	require.True(t, out.IsError())
	assert.Equal(t, pl.KindUnauthorized, out.Err.Kind)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ab_12", "a@b.com")
	first := env.accounts.Login(ctx, "ab_12", testPassword)
	other := env.accounts.Login(ctx, "ab_12", testPassword)
	require.False(t, first.IsError())
	require.False(t, other.IsError())

	const newPassword = "Bb2@bbbbbbbb"

	out := env.accounts.ChangePassword(ctx, "bogus", testPassword, newPassword)
	require.True(t, out.IsError())
	assert.Equal(t, pl.KindUnauthorized, out.Err.Kind)

	out = env.accounts.ChangePassword(ctx, first.Session.ID, "Wrong1!wrongg", newPassword)
	require.True(t, out.IsError())
	assert.Equal(t, pl.ErrCodeInvalidCreds, out.Err.Code)

	out = env.accounts.ChangePassword(ctx, first.Session.ID, testPassword, testPassword)
	require.True(t, out.IsError())
	assert.Equal(t, "newPassword", out.Err.Field)

	out = env.accounts.ChangePassword(ctx, first.Session.ID, testPassword, "weak")
	require.True(t, out.IsError())
	assert.Equal(t, pl.ErrCodeWeakPassword, out.Err.Code)
	assert.Equal(t, "newPassword", out.Err.Field)

	out = env.accounts.ChangePassword(ctx, first.Session.ID, testPassword, newPassword)
	require.False(t, out.IsError(), "change password: %v", out.Err)
	assert.Equal(t, pl.OutcomeSuccess, out.Kind)
	require.NotNil(t, out.Session)

	for _, old := range []string{first.Session.ID, other.Session.ID} {
		session, err := env.sessions.ValidateSession(ctx, old)
		require.NoError(t, err)
		assert.Nil(t, session, "old sessions end on password change")
	}
	session, err := env.sessions.ValidateSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.NotNil(t, session)

	assert.True(t, env.accounts.Login(ctx, "ab_12", testPassword).IsError())
	assert.False(t, env.accounts.Login(ctx, "ab_12", newPassword).IsError())
}

func TestEnsureOAuthUser(t *testing.T) {
	ctx := context.Background()

	t.Run("creates verified user", func(t *testing.T) {
		env := newTestEnv(t)
		user, err := env.accounts.EnsureOAuthUser(ctx, pl.OAuthProfile{
			Provider:    "github",
			ProviderID:  "42",
			Email:       "gh@b.com",
			DisplayName: "Git Hub",
			Username:    "octo",
			ImageURL:    "https://example.com/a.png",
		})
		require.NoError(t, err)
		assert.True(t, user.EmailVerified)
		assert.Equal(t, "octo", user.Username)
		assert.False(t, user.HasPassword())

		again, err := env.accounts.EnsureOAuthUser(ctx, pl.OAuthProfile{Provider: "google", Email: "GH@b.com"})
		require.NoError(t, err)
		assert.Equal(t, user.ID, again.ID)
	})

	t.Run("links to existing account and verifies it", func(t *testing.T) {
		env := newTestEnv(t)
		existing := env.signup(t, "ab_12", "a@b.com")
		user, err := env.accounts.EnsureOAuthUser(ctx, pl.OAuthProfile{Provider: "google", Email: "a@b.com"})
		require.NoError(t, err)
		assert.Equal(t, existing.ID, user.ID)

		stored, err := env.users.GetUserById(ctx, existing.ID)
		require.NoError(t, err)
		assert.True(t, stored.EmailVerified)
	})

	t.Run("taken username is dropped", func(t *testing.T) {
		env := newTestEnv(t)
		env.signup(t, "octo", "a@b.com")
		user, err := env.accounts.EnsureOAuthUser(ctx, pl.OAuthProfile{Provider: "github", Email: "gh@b.com", Username: "octo"})
		require.NoError(t, err)
		assert.Empty(t, user.Username)
	})

	t.Run("requires email", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.accounts.EnsureOAuthUser(ctx, pl.OAuthProfile{Provider: "github"})
		authErr := pl.AsAuthError(err)
		require.NotNil(t, authErr)
		assert.Equal(t, pl.KindValidation, authErr.Kind)

		out := env.accounts.LoginOAuth(ctx, pl.OAuthProfile{Provider: "github"})
		assert.True(t, out.IsError())
	})
}

func TestLoginOAuth(t *testing.T) {
	env := newTestEnv(t)
	out := env.accounts.LoginOAuth(context.Background(), pl.OAuthProfile{Provider: "discord", Email: "d@b.com"})
	require.False(t, out.IsError())
	assert.Equal(t, pl.OutcomeRedirect, out.Kind)
	require.NotNil(t, out.Session)
	assert.Equal(t, "d@b.com", out.Session.User.Email)
}
