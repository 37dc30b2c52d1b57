package passlink

import "net/http"

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRedirect
	OutcomeError
)

// Outcome is what an account or redemption flow hands back to the HTTP layer.
// Flows never perform navigation themselves; a Redirect is a value, not an error.
type Outcome struct {
	Kind OutcomeKind

	// Location is set for OutcomeRedirect
	Location string

	// Message is set for OutcomeSuccess
	Message string

	// Cookie, if set, must be written on the response
	Cookie *http.Cookie

	// Session is the session created by the flow, if any
	Session *Session

	// Err is set for OutcomeError
	Err *AuthError
}

// Redirect returns a navigation outcome
func Redirect(location string, cookie *http.Cookie) Outcome {
	return Outcome{Kind: OutcomeRedirect, Location: location, Cookie: cookie}
}

// Success returns a soft success outcome
func Success(message string, cookie *http.Cookie) Outcome {
	return Outcome{Kind: OutcomeSuccess, Message: message, Cookie: cookie}
}

// Failure wraps err as an error outcome
func Failure(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: AsAuthError(err)}
}

func (o Outcome) IsError() bool {
	return o.Kind == OutcomeError
}

// Result is the soft {success} / {error} answer of the resend and
// magic-link request actions.
type Result struct {
	Message string
	Err     *AuthError
}

func (r Result) OK() bool {
	return r.Err == nil
}

func resultOK(message string) Result {
	return Result{Message: message}
}

func resultErr(err *AuthError) Result {
	return Result{Err: err}
}

// RedeemResult is returned by a successful token redemption
type RedeemResult struct {
	UserID  string
	Purpose Purpose
}
