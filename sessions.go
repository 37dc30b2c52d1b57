package passlink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"go.uber.org/zap"
)

// SessionUser is the set of user attributes bound to a session when it is created
type SessionUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Username    string `json:"username,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Session is a validated server-side session
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	User      SessionUser

	// Fresh is set when the expiry was just extended and the cookie should be re-sent
	Fresh bool
}

// SessionRecord is what gets stored in the backing scs.Store for each session id
type SessionRecord struct {
	UserID    string      `json:"userId"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      SessionUser `json:"user"`
}

// DecodeSessionRecord decodes a record written by SessionManager.
// Stores use it to index sessions by user.
func DecodeSessionRecord(b []byte) (*SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("invalid session record: %w", err)
	}
	return &rec, nil
}

// UserSessionDeleter is implemented by stores that can drop every session of a user directly
type UserSessionDeleter interface {
	DeleteUserSessions(ctx context.Context, userID string) error
}

const (
	DefaultSessionCookieName = "auth_session"
	DefaultSessionTTL        = 14 * 24 * time.Hour
)

// SessionConfig controls session lifetime and cookie attributes
type SessionConfig struct {
	CookieName string
	ExpiresIn  time.Duration
	Secure     bool
	Domain     string
	Path       string
	SameSite   http.SameSite
}

// EnsureDefaults fills in unset fields
func (c *SessionConfig) EnsureDefaults() {
	if c.CookieName == "" {
		c.CookieName = DefaultSessionCookieName
	}
	if c.ExpiresIn <= 0 {
		c.ExpiresIn = DefaultSessionTTL
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
}

// SessionManager creates, validates and invalidates sessions. One instance
// is built at startup and passed to every flow and handler that needs it.
type SessionManager struct {
	Config  SessionConfig
	Store   scs.Store
	Users   UserStore
	Logger  *zap.Logger
	Metrics *Metrics

	now func() time.Time
}

// NewSessionManager creates a manager. A nil store means an in-memory store.
func NewSessionManager(config SessionConfig, store scs.Store, users UserStore, now func() time.Time) *SessionManager {
	config.EnsureDefaults()
	if store == nil {
		store = memstore.New()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{Config: config, Store: store, Users: users, Logger: zap.NewNop(), now: now}
}

// CreateSession starts a new session for userID
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (*Session, error) {
	user, err := m.Users.GetUserById(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	id, err := GenerateSecureToken(20)
	if err != nil {
		return nil, err
	}
	rec := &SessionRecord{
		UserID:    userID,
		ExpiresAt: m.now().Add(m.Config.ExpiresIn),
		User:      user.SessionUser(),
	}
	if err := m.commit(ctx, id, rec); err != nil {
		return nil, err
	}
	m.Metrics.sessionCreated()
	m.Logger.Info("session created", zap.String("user_id", userID))
	return &Session{ID: id, UserID: userID, ExpiresAt: rec.ExpiresAt, User: rec.User, Fresh: true}, nil
}

// ValidateSession returns the session for id, or nil if it is unknown or expired.
// Sessions in the second half of their lifetime are extended and marked Fresh.
func (m *SessionManager) ValidateSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	b, found, err := m.find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	rec, err := DecodeSessionRecord(b)
	if err != nil {
		m.Logger.Warn("dropping undecodable session", zap.Error(err))
		return nil, m.delete(ctx, id)
	}

	now := m.now()
	if !now.Before(rec.ExpiresAt) {
		return nil, m.delete(ctx, id)
	}

	session := &Session{ID: id, UserID: rec.UserID, ExpiresAt: rec.ExpiresAt, User: rec.User}
	if rec.ExpiresAt.Sub(now) < m.Config.ExpiresIn/2 {
		rec.ExpiresAt = now.Add(m.Config.ExpiresIn)
		if err := m.commit(ctx, id, rec); err != nil {
			return nil, err
		}
		session.ExpiresAt = rec.ExpiresAt
		session.Fresh = true
	}
	return session, nil
}

// InvalidateSession deletes one session
func (m *SessionManager) InvalidateSession(ctx context.Context, id string) error {
	return m.delete(ctx, id)
}

// InvalidateUserSessions deletes every session belonging to userID
func (m *SessionManager) InvalidateUserSessions(ctx context.Context, userID string) error {
	if d, ok := m.Store.(UserSessionDeleter); ok {
		return d.DeleteUserSessions(ctx, userID)
	}
	it, ok := m.Store.(scs.IterableStore)
	if !ok {
		return fmt.Errorf("session store %T cannot enumerate sessions", m.Store)
	}
	all, err := it.All()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for id, b := range all {
		rec, err := DecodeSessionRecord(b)
		if err != nil || rec.UserID != userID {
			continue
		}
		if err := m.delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SessionCookie returns the cookie that carries id. It has no Expires or
// MaxAge so it lives until the session is explicitly invalidated.
func (m *SessionManager) SessionCookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     m.Config.CookieName,
		Value:    id,
		Path:     m.Config.Path,
		Domain:   m.Config.Domain,
		HttpOnly: true,
		Secure:   m.Config.Secure,
		SameSite: m.Config.SameSite,
	}
}

// BlankSessionCookie returns a cookie that clears the session cookie
func (m *SessionManager) BlankSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.Config.CookieName,
		Value:    "",
		Path:     m.Config.Path,
		Domain:   m.Config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.Config.Secure,
		SameSite: m.Config.SameSite,
	}
}

// SessionIDFromRequest reads the session cookie
func (m *SessionManager) SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(m.Config.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (m *SessionManager) commit(ctx context.Context, id string, rec *SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if cs, ok := m.Store.(scs.CtxStore); ok {
		err = cs.CommitCtx(ctx, id, b, rec.ExpiresAt)
	} else {
		err = m.Store.Commit(id, b, rec.ExpiresAt)
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (m *SessionManager) find(ctx context.Context, id string) ([]byte, bool, error) {
	if cs, ok := m.Store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, id)
	}
	return m.Store.Find(id)
}

func (m *SessionManager) delete(ctx context.Context, id string) error {
	var err error
	if cs, ok := m.Store.(scs.CtxStore); ok {
		err = cs.DeleteCtx(ctx, id)
	} else {
		err = m.Store.Delete(id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
