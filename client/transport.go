package client

import (
	"net/http"
)

// SessionTransport wraps an http.RoundTripper to present a fixed session cookie
type SessionTransport struct {
	Base       http.RoundTripper
	CookieName string
	SessionID  string
}

// RoundTrip implements http.RoundTripper
func (t *SessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.SessionID != "" {
		// Clone the request to avoid mutating the original
		req = withSessionCookie(req, &http.Cookie{Name: t.CookieName, Value: t.SessionID})
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

// NewSessionTransport creates a SessionTransport over http.DefaultTransport
func NewSessionTransport(cookieName, sessionID string) *SessionTransport {
	return &SessionTransport{
		Base:       http.DefaultTransport,
		CookieName: cookieName,
		SessionID:  sessionID,
	}
}

// withSessionCookie returns a clone of req carrying cookie, replacing any
// cookie of the same name already on it
func withSessionCookie(req *http.Request, cookie *http.Cookie) *http.Request {
	req2 := req.Clone(req.Context())
	existing := req2.Cookies()
	req2.Header.Del("Cookie")
	for _, c := range existing {
		if c.Name != cookie.Name {
			req2.AddCookie(c)
		}
	}
	req2.AddCookie(cookie)
	return req2
}
