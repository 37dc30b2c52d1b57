// Package passlink provides email verification, magic-link sign in and
// password accounts on top of server-side sessions.
//
// # Architecture
//
// TokenCodec: Signs and verifies short lived HS256 tokens. Every token carries
// a purpose (email verification or magic link) and a user id, and expires
// after TokenTTL. Verification failures are never distinguished to callers.
//
// VerificationFlow: Issues a 6 digit code per user, re-issues it no more than
// once per cooldown, and redeems the emailed token. A user has at most one
// active code; redeeming deletes it and marks the email verified.
//
// MagicLinkFlow: Emails sign-in links, creating a passwordless user for
// unknown addresses. Redeeming any link of a user deletes all of that user's
// links.
//
// SessionManager: Creates and validates sessions kept in any scs.Store and
// produces the session cookies. One manager is built at startup and shared.
//
// AccountFlow: Signup, login, logout and password change for password
// accounts, plus user resolution for OAuth sign in.
//
// Server: The HTTP surface over the flows. The client package talks to it
// with a stored session cookie.
//
// # Basic Usage
//
// Set up stores and the session manager:
//
//	import (
//	    "github.com/panyam/passlink"
//	    "github.com/panyam/passlink/stores/fs"
//	)
//
//	users := fs.NewFSUserStore(storagePath)
//	codes := fs.NewFSVerificationCodeStore(storagePath)
//	links := fs.NewFSMagicLinkStore(storagePath)
//	sessions := passlink.NewSessionManager(passlink.SessionConfig{Secure: true}, nil, users, nil)
//
// Build the flows and serve them:
//
//	codec := passlink.NewTokenCodec([]byte(secret), "myapp", nil)
//	verification := (&passlink.VerificationFlow{
//	    Codec: codec, Users: users, Codes: codes,
//	    Email: &passlink.ConsoleEmailSender{}, BaseURL: "https://yourapp.com",
//	}).EnsureDefaults()
//	server := &passlink.Server{
//	    Sessions:     sessions,
//	    Verification: verification,
//	    MagicLinks:   magicLinks,
//	    Accounts:     accounts,
//	}
//	http.ListenAndServe(":8080", server)
//
// # Outcomes
//
// Account operations return an Outcome: a Redirect, a Success or an Error
// carrying an *AuthError. Only the HTTP layer turns an Outcome into a
// response, so redirects are never raised as errors.
//
// # Concurrency
//
// Resends use a compare-and-swap on the stored code's version so two
// concurrent resends cannot both send. Magic-link request and redeem hold a
// per-user Locker. Redemption succeeds only for the caller that actually
// deleted the rows.
package passlink
