package passlink_test

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	pl "github.com/panyam/passlink"
	"github.com/panyam/passlink/stores/fs"
)

const testSecret = "test-secret-0123456789abcdef0123"

// fakeClock starts at the current whole second and only moves forward, so
// stores that check expiry against the real clock stay consistent with it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires every flow over fs stores in a temp directory
type testEnv struct {
	clock        *fakeClock
	users        *fs.FSUserStore
	codes        *fs.FSVerificationCodeStore
	links        *fs.FSMagicLinkStore
	email        *pl.ConsoleEmailSender
	codec        *pl.TokenCodec
	metrics      *pl.Metrics
	registry     *prometheus.Registry
	sessions     *pl.SessionManager
	verification *pl.VerificationFlow
	magicLinks   *pl.MagicLinkFlow
	accounts     *pl.AccountFlow
	server       *pl.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	clock := newFakeClock()
	registry := prometheus.NewRegistry()

	env := &testEnv{
		clock:    clock,
		users:    fs.NewFSUserStore(dir),
		codes:    fs.NewFSVerificationCodeStore(dir),
		links:    fs.NewFSMagicLinkStore(dir),
		email:    &pl.ConsoleEmailSender{Out: io.Discard, Keep: 100},
		codec:    pl.NewTokenCodec([]byte(testSecret), "passlink-test", clock.Now),
		metrics:  pl.NewMetrics(registry),
		registry: registry,
	}
	env.sessions = pl.NewSessionManager(pl.SessionConfig{}, nil, env.users, clock.Now)
	env.sessions.Metrics = env.metrics

	env.verification = (&pl.VerificationFlow{
		Codec:   env.codec,
		Users:   env.users,
		Codes:   env.codes,
		Email:   env.email,
		BaseURL: "http://localhost:8080",
		Metrics: env.metrics,
		Now:     clock.Now,
	}).EnsureDefaults()

	env.magicLinks = (&pl.MagicLinkFlow{
		Codec:   env.codec,
		Users:   env.users,
		Links:   env.links,
		Email:   env.email,
		BaseURL: "http://localhost:8080",
		Metrics: env.metrics,
		Now:     clock.Now,
	}).EnsureDefaults()

	env.accounts = (&pl.AccountFlow{
		Users:        env.users,
		Sessions:     env.sessions,
		Verification: env.verification,
		Now:          clock.Now,
	}).EnsureDefaults()

	env.server = &pl.Server{
		Sessions:     env.sessions,
		Verification: env.verification,
		MagicLinks:   env.magicLinks,
		Accounts:     env.accounts,
	}
	return env
}

var linkToken = regexp.MustCompile(`token=([^"&<\s]+)`)

// tokenFromLink pulls the token query parameter out of a link or email body
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	m := linkToken.FindStringSubmatch(link)
	require.Len(t, m, 2, "no token in %q", link)
	token, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return token
}

// lastToken returns the token in the most recent email sent to addr
func (e *testEnv) lastToken(t *testing.T, addr string) string {
	t.Helper()
	email := e.email.LastEmail(addr)
	require.NotNil(t, email, "no email sent to %s", addr)
	return tokenFromLink(t, email.HTML)
}

func (e *testEnv) signup(t *testing.T, username, email string) *pl.User {
	t.Helper()
	out := e.accounts.Signup(context.Background(), pl.SignupInput{
		DisplayName:     "Test User",
		Username:        username,
		Email:           email,
		Password:        "Aa1!aaaaaaaa",
		ConfirmPassword: "Aa1!aaaaaaaa",
	})
	require.False(t, out.IsError(), "signup failed: %v", out.Err)
	user, err := e.users.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}
