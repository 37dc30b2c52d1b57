package client_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
	"github.com/panyam/passlink/client"
	"github.com/panyam/passlink/stores/fs"
)

const password = "Aa1!aaaaaaaa"

type testServer struct {
	*httptest.Server
	email *pl.ConsoleEmailSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	users := fs.NewFSUserStore(dir)
	email := &pl.ConsoleEmailSender{Out: io.Discard, Keep: 100}
	codec := pl.NewTokenCodec([]byte("client-test-secret-0123456789abc"), "", nil)
	sessions := pl.NewSessionManager(pl.SessionConfig{}, nil, users, nil)

	verification := (&pl.VerificationFlow{
		Codec: codec, Users: users, Codes: fs.NewFSVerificationCodeStore(dir), Email: email,
	}).EnsureDefaults()
	server := &pl.Server{
		Sessions:     sessions,
		Verification: verification,
		MagicLinks: (&pl.MagicLinkFlow{
			Codec: codec, Users: users, Links: fs.NewFSMagicLinkStore(dir), Email: email,
		}).EnsureDefaults(),
		Accounts: (&pl.AccountFlow{Users: users, Sessions: sessions, Verification: verification}).EnsureDefaults(),
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	verification.BaseURL = ts.URL
	server.MagicLinks.BaseURL = ts.URL
	return &testServer{Server: ts, email: email}
}

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

func (s *testServer) lastLink(t *testing.T, to string) string {
	t.Helper()
	email := s.email.LastEmail(to)
	require.NotNil(t, email)
	m := hrefPattern.FindStringSubmatch(email.HTML)
	require.Len(t, m, 2)
	link, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return link
}

func TestSessionClient_SignupAndMe(t *testing.T) {
	ts := newTestServer(t)
	store := client.NewMemoryCredentialStore()
	c := client.NewSessionClient(ts.URL+"/ignored/path", store)
	ctx := context.Background()

	assert.Equal(t, ts.URL, c.ServerURL())
	assert.False(t, c.IsLoggedIn())
	_, err := c.Me(ctx)
	assert.ErrorIs(t, err, client.ErrNotLoggedIn)

	cred, err := c.Signup(ctx, client.SignupRequest{
		DisplayName:     "Test User",
		Username:        "ab_12",
		Email:           "a@b.com",
		Password:        password,
		ConfirmPassword: password,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cred.SessionID)
	assert.Equal(t, "a@b.com", cred.UserEmail)
	assert.True(t, c.IsLoggedIn())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ab_12", me.Username)
	assert.Equal(t, "a@b.com", me.Email)
}

func TestSessionClient_ErrorsCarryServerDetails(t *testing.T) {
	ts := newTestServer(t)
	c := client.NewSessionClient(ts.URL, client.NewMemoryCredentialStore())
	ctx := context.Background()

	_, err := c.Login(ctx, "nobody", password)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, pl.ErrCodeInvalidCreds, apiErr.Code)
	assert.False(t, c.IsLoggedIn())

	_, err = c.Signup(ctx, client.SignupRequest{Username: "ab_12", Email: "bad"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.NotEmpty(t, apiErr.Field)
}

func TestSessionClient_VerifyAndResend(t *testing.T) {
	ts := newTestServer(t)
	c := client.NewSessionClient(ts.URL, client.NewMemoryCredentialStore())
	ctx := context.Background()

	_, err := c.Signup(ctx, client.SignupRequest{
		DisplayName: "Test User", Username: "ab_12", Email: "a@b.com",
		Password: password, ConfirmPassword: password,
	})
	require.NoError(t, err)

	err = c.ResendVerification(ctx, "a@b.com")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.Greater(t, apiErr.RemainingSeconds, 0)

	_, err = c.Redeem(ctx, ts.lastLink(t, "a@b.com"))
	require.NoError(t, err)

	err = c.ResendVerification(ctx, "a@b.com")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, pl.ErrCodeAlreadyVerified, apiErr.Code)
}

func TestSessionClient_MagicLinkLogin(t *testing.T) {
	ts := newTestServer(t)
	c := client.NewSessionClient(ts.URL, client.NewMemoryCredentialStore())
	ctx := context.Background()

	require.NoError(t, c.RequestMagicLink(ctx, "m@b.com"))
	link := ts.lastLink(t, "m@b.com")

	cred, err := c.Redeem(ctx, link)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.SessionID)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m@b.com", me.Email)

	_, err = c.Redeem(ctx, link)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, pl.ErrCodeInvalidToken, apiErr.Code)
}

func TestSessionClient_LogoutAndRejectedSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	first := client.NewSessionClient(ts.URL, client.NewMemoryCredentialStore())
	_, err := first.Signup(ctx, client.SignupRequest{
		DisplayName: "Test User", Username: "ab_12", Email: "a@b.com",
		Password: password, ConfirmPassword: password,
	})
	require.NoError(t, err)

	second := client.NewSessionClient(ts.URL, client.NewMemoryCredentialStore())
	_, err = second.Login(ctx, "a@b.com", password)
	require.NoError(t, err)

	// changing the password ends every other session
	_, err = first.ChangePassword(ctx, password, "Bb2@bbbbbbbb")
	require.NoError(t, err)
	_, err = first.Me(ctx)
	require.NoError(t, err)

	_, err = second.Me(ctx)
	assert.ErrorIs(t, err, client.ErrNotLoggedIn)
	assert.False(t, second.IsLoggedIn(), "a rejected session is forgotten")

	require.NoError(t, first.Logout(ctx))
	assert.False(t, first.IsLoggedIn())
	require.NoError(t, first.Logout(ctx))
}

func TestSessionTransport(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil {
			got = c.Value
		}
	}))
	defer srv.Close()

	httpClient := &http.Client{Transport: client.NewSessionTransport("sid", "abc")}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "stale"})
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc", got)
	assert.Equal(t, "stale", func() string { c, _ := req.Cookie("sid"); return c.Value }(), "the caller's request is not mutated")
}
