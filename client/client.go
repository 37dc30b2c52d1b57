package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pl "github.com/panyam/passlink"
)

// ErrNotLoggedIn is returned by calls that need a session when none is stored
// or the server no longer accepts the stored one
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is an error answer from the server
type APIError struct {
	Status           int    `json:"-"`
	Message          string `json:"error"`
	Code             string `json:"code"`
	Field            string `json:"field,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s: %s)", e.Message, e.Field, e.Code)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("request failed: HTTP %d", e.Status)
}

// IsRateLimited reports whether the server asked us to wait before retrying
func (e *APIError) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// SignupRequest is the body of a signup call
type SignupRequest = pl.SignupInput

// SessionClient talks to a passlink server and remembers the session cookie
type SessionClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	cookieName    string
}

// ClientOption configures a SessionClient
type ClientOption func(*SessionClient)

// WithCookieName sets the session cookie name the server uses
func WithCookieName(name string) ClientOption {
	return func(c *SessionClient) {
		c.cookieName = name
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with session handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SessionClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *SessionClient) {
		c.baseTransport = transport
	}
}

// NewSessionClient creates a client for the server at serverURL
func NewSessionClient(serverURL string, store CredentialStore, opts ...ClientOption) *SessionClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &SessionClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		cookieName:    pl.DefaultSessionCookieName,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &storeTransport{client: c, base: c.baseTransport}
	// redemptions and form posts answer with redirects that carry the cookie
	c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// HTTPClient returns an HTTP client that presents the stored session on every request
func (c *SessionClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *SessionClient) ServerURL() string {
	return c.serverURL
}

// GetCredential returns the stored credential for this server
func (c *SessionClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn reports whether a session is stored. The server may still reject it.
func (c *SessionClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	return err == nil && cred != nil && cred.SessionID != ""
}

// Signup creates a password account and keeps the session it starts
func (c *SessionClient) Signup(ctx context.Context, req SignupRequest) (*ServerCredential, error) {
	resp, err := c.postJSON(ctx, "/auth/signup", req)
	if err != nil {
		return nil, err
	}
	return c.keepSession(resp, req.Email)
}

// Login signs in with a username or email and a password
func (c *SessionClient) Login(ctx context.Context, identifier, password string) (*ServerCredential, error) {
	resp, err := c.postJSON(ctx, "/auth/login", map[string]string{
		"username": identifier,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	email := ""
	if pl.DetectUsernameType(identifier) == "email" {
		email = identifier
	}
	return c.keepSession(resp, email)
}

// RequestMagicLink asks the server to email a sign-in link
func (c *SessionClient) RequestMagicLink(ctx context.Context, email string) error {
	resp, err := c.postJSON(ctx, "/auth/magic-link", map[string]string{"email": email})
	if err != nil {
		return err
	}
	return drain(resp)
}

// ResendVerification asks the server to send a fresh verification email
func (c *SessionClient) ResendVerification(ctx context.Context, email string) error {
	resp, err := c.postJSON(ctx, "/auth/resend-verification", map[string]string{"email": email})
	if err != nil {
		return err
	}
	return drain(resp)
}

// Redeem follows a verification or magic link from an email and keeps the
// session it starts. The link must point at this client's server.
func (c *SessionClient) Redeem(ctx context.Context, link string) (*ServerCredential, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid link: %w", err)
	}
	target := c.serverURL + u.Path
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return c.keepSession(resp, "")
}

// Me returns the user of the current session
func (c *SessionClient) Me(ctx context.Context) (*pl.SessionUser, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		if isUnauthorized(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}
	defer resp.Body.Close()

	var user pl.SessionUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	return &user, nil
}

// ChangePassword replaces the password. The server ends every session of the
// user and starts a new one, which replaces the stored credential.
func (c *SessionClient) ChangePassword(ctx context.Context, currentPassword, newPassword string) (*ServerCredential, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	resp, err := c.postJSON(ctx, "/auth/change-password", map[string]string{
		"password":    currentPassword,
		"newPassword": newPassword,
	})
	if err != nil {
		return nil, err
	}
	prev, _ := c.GetCredential()
	email := ""
	if prev != nil {
		email = prev.UserEmail
	}
	return c.keepSession(resp, email)
}

// Logout ends the session on the server and forgets it locally. The local
// credential is removed even if the server call fails.
func (c *SessionClient) Logout(ctx context.Context) error {
	var callErr error
	if c.IsLoggedIn() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/auth/logout", nil)
		if err != nil {
			return err
		}
		resp, err := c.do(req)
		if err == nil {
			resp.Body.Close()
		} else if !isUnauthorized(err) {
			callErr = err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return callErr
}

func (c *SessionClient) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends req and turns 4xx/5xx answers into *APIError
func (c *SessionClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		json.Unmarshal(body, apiErr)
	}
	return nil, apiErr
}

// keepSession stores the session cookie set on resp
func (c *SessionClient) keepSession(resp *http.Response, email string) (*ServerCredential, error) {
	defer resp.Body.Close()
	var sessionID string
	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.cookieName && cookie.Value != "" {
			sessionID = cookie.Value
		}
	}
	if sessionID == "" {
		return nil, fmt.Errorf("server did not start a session (HTTP %d)", resp.StatusCode)
	}

	cred := &ServerCredential{
		SessionID:  sessionID,
		CookieName: c.cookieName,
		UserEmail:  strings.TrimSpace(email),
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	_, err := io.Copy(io.Discard, resp.Body)
	return err
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// storeTransport presents the stored session and forgets it once the server
// rejects or clears it
type storeTransport struct {
	client *SessionClient
	base   http.RoundTripper
}

func (t *storeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, err := t.client.GetCredential()
	if err != nil {
		return nil, err
	}
	if cred != nil && cred.SessionID != "" {
		req = withSessionCookie(req, cred.Cookie())
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if cred != nil && (resp.StatusCode == http.StatusUnauthorized || clearsSession(resp, t.client.cookieName)) {
		t.client.forget(cred)
	}
	return resp, nil
}

// clearsSession reports whether resp blanks the session cookie
func clearsSession(resp *http.Response, name string) bool {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name && cookie.Value == "" {
			return true
		}
	}
	return false
}

// forget drops cred unless it has been replaced in the meantime
func (c *SessionClient) forget(cred *ServerCredential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.store.GetCredential(c.serverURL)
	if err != nil || current == nil || current.SessionID != cred.SessionID {
		return
	}
	if c.store.RemoveCredential(c.serverURL) == nil {
		c.store.Save()
	}
}
