package passlink

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type sessionContextKey struct{}

// SessionFromContext returns the session stored by SessionMiddleware, or nil
func SessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey{}).(*Session)
	return session
}

// WithSession returns a copy of ctx carrying session
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionMiddleware validates the session cookie on every request.
//
// A fresh session gets its cookie re-sent and an invalid one gets it blanked.
// The session, if any, is available downstream through SessionFromContext.
// This does not reject anonymous requests; wrap handlers with RequireSession for that.
func SessionMiddleware(sessions *SessionManager, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessions.SessionIDFromRequest(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			session, err := sessions.ValidateSession(r.Context(), id)
			if err != nil {
				logger.Error("session validation failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				http.SetCookie(w, sessions.BlankSessionCookie())
				next.ServeHTTP(w, r)
				return
			}
			if session.Fresh {
				http.SetCookie(w, sessions.SessionCookie(session.ID))
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireSession answers 401 unless SessionMiddleware found a valid session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFromContext(r.Context()) == nil {
			writeError(w, UnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}
