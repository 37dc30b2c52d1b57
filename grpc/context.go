// Package grpc carries passlink sessions across gRPC calls. Clients put the
// session id in metadata; the server interceptors validate it and expose the
// session and user id in the handler context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	pl "github.com/panyam/passlink"
)

const (
	// DefaultMetadataKeySessionID is the default gRPC metadata key for the session id
	DefaultMetadataKeySessionID = "x-session-id"

	// DefaultMetadataKeyCookie is consulted when the session id key is absent,
	// so gateways that forward the browser's Cookie header keep working.
	DefaultMetadataKeyCookie = "cookie"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeySessionID is the gRPC metadata key for the session id.
	// Defaults to "x-session-id".
	MetadataKeySessionID string

	// CookieName is looked up in forwarded cookie metadata. Defaults to
	// the session manager's default cookie name.
	CookieName string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeySessionID: DefaultMetadataKeySessionID,
		CookieName:           pl.DefaultSessionCookieName,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySessionID == "" {
		c.MetadataKeySessionID = DefaultMetadataKeySessionID
	}
	if c.CookieName == "" {
		c.CookieName = pl.DefaultSessionCookieName
	}
}

// SessionIDFromIncoming reads the session id a client sent, checking the
// explicit key before any forwarded cookie.
func SessionIDFromIncoming(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySessionID); len(values) > 0 && values[0] != "" {
		return values[0]
	}
	for _, header := range md.Get(DefaultMetadataKeyCookie) {
		for _, part := range strings.Split(header, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(part), "=")
			if found && name == config.CookieName && value != "" {
				return value
			}
		}
	}
	return ""
}

// UserIDFromContext returns the id of the user whose session the interceptor
// validated, or "" for unauthenticated calls.
func UserIDFromContext(ctx context.Context) string {
	if session := pl.SessionFromContext(ctx); session != nil {
		return session.UserID
	}
	return ""
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// SessionIDToOutgoingContext adds the session id to outgoing gRPC context metadata.
func SessionIDToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return SessionIDToOutgoingContextWithKey(ctx, sessionID, DefaultMetadataKeySessionID)
}

// SessionIDToOutgoingContextWithKey adds the session id under a custom key.
func SessionIDToOutgoingContextWithKey(ctx context.Context, sessionID string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, sessionID)
}
