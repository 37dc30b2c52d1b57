package passlink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server exposes the flows over HTTP
type Server struct {
	Sessions     *SessionManager
	Verification *VerificationFlow
	MagicLinks   *MagicLinkFlow
	Accounts     *AccountFlow
	Logger       *zap.Logger

	// Where a successful token redemption lands. Defaults to "/".
	RedirectURL string

	router *mux.Router
}

// Router builds the routes on first use. Callers may add their own routes to it.
func (s *Server) Router() *mux.Router {
	if s.router != nil {
		return s.router
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.RedirectURL == "" {
		s.RedirectURL = "/"
	}

	r := mux.NewRouter()
	r.Use(SessionMiddleware(s.Sessions, s.Logger))

	r.HandleFunc("/api/verify-email", s.HandleVerifyEmail).Methods(http.MethodGet)
	r.HandleFunc("/api/magic-link", s.HandleMagicLink).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/resend-verification", s.HandleResendVerification).Methods(http.MethodPost)
	auth.HandleFunc("/magic-link", s.HandleRequestMagicLink).Methods(http.MethodPost)
	auth.HandleFunc("/signup", s.HandleSignup).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.HandleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.HandleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/change-password", s.HandleChangePassword).Methods(http.MethodPost)
	auth.Handle("/me", RequireSession(http.HandlerFunc(s.HandleMe))).Methods(http.MethodGet)

	s.router = r
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router().ServeHTTP(w, r)
}

// AddProvider mounts an OAuth provider handler under /auth/{name}/
func (s *Server) AddProvider(name string, handler http.Handler) *Server {
	prefix := "/auth/" + strings.Trim(name, "/")
	r := s.Router()
	r.Handle(prefix, http.RedirectHandler(prefix+"/", http.StatusPermanentRedirect))
	r.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, handler))
	return s
}

// HandleVerifyEmail redeems an email verification token and signs the user in
func (s *Server) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	s.redeem(w, r, func(token string) (*RedeemResult, error) {
		return s.Verification.Redeem(r.Context(), token)
	})
}

// HandleMagicLink redeems a magic-link token and signs the user in
func (s *Server) HandleMagicLink(w http.ResponseWriter, r *http.Request) {
	s.redeem(w, r, func(token string) (*RedeemResult, error) {
		return s.MagicLinks.Redeem(r.Context(), token)
	})
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request, redeem func(token string) (*RedeemResult, error)) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, ValidationError(ErrCodeMissingField, "Token required", "token"))
		return
	}
	result, err := redeem(token)
	if err != nil {
		writeError(w, AsAuthError(err))
		return
	}
	session, err := s.Sessions.CreateSession(r.Context(), result.UserID)
	if err != nil {
		s.Logger.Error("redeem: create session failed", zap.String("purpose", string(result.Purpose)), zap.Error(err))
		writeError(w, InternalError(err))
		return
	}
	http.SetCookie(w, s.Sessions.SessionCookie(session.ID))
	http.Redirect(w, r, s.RedirectURL, http.StatusFound)
}

// HandleResendVerification re-sends the verification email
func (s *Server) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	form, authErr := parseForm(r)
	if authErr != nil {
		writeError(w, authErr)
		return
	}
	writeResult(w, s.Verification.Resend(r.Context(), form["email"]))
}

// HandleRequestMagicLink emails a sign-in link
func (s *Server) HandleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	form, authErr := parseForm(r)
	if authErr != nil {
		writeError(w, authErr)
		return
	}
	writeResult(w, s.MagicLinks.RequestLink(r.Context(), form["email"]))
}

// HandleSignup processes user registration
func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	form, authErr := parseForm(r)
	if authErr != nil {
		writeError(w, authErr)
		return
	}
	s.writeOutcome(w, r, s.Accounts.Signup(r.Context(), SignupInput{
		DisplayName:     form["displayName"],
		Username:        form["username"],
		Email:           form["email"],
		Password:        form["password"],
		ConfirmPassword: form["confirmPassword"],
	}))
}

// HandleLogin accepts a username or email in either the "username" or "email" field
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	form, authErr := parseForm(r)
	if authErr != nil {
		writeError(w, authErr)
		return
	}
	identifier := form["username"]
	if identifier == "" {
		identifier = form["email"]
	}
	s.writeOutcome(w, r, s.Accounts.Login(r.Context(), identifier, form["password"]))
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s.writeOutcome(w, r, s.Accounts.Logout(r.Context(), s.sessionID(r)))
}

func (s *Server) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	form, authErr := parseForm(r)
	if authErr != nil {
		writeError(w, authErr)
		return
	}
	s.writeOutcome(w, r, s.Accounts.ChangePassword(r.Context(), s.sessionID(r), form["password"], form["newPassword"]))
}

// HandleMe returns the attributes of the signed in user
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, session.User)
}

// CompleteOAuth signs in the user an OAuth provider returned and redirects home
func (s *Server) CompleteOAuth(w http.ResponseWriter, r *http.Request, profile OAuthProfile) {
	s.writeOutcome(w, r, s.Accounts.LoginOAuth(r.Context(), profile))
}

// sessionID prefers the session validated by the middleware over the raw cookie
func (s *Server) sessionID(r *http.Request) string {
	if session := SessionFromContext(r.Context()); session != nil {
		return session.ID
	}
	return s.Sessions.SessionIDFromRequest(r)
}

// writeOutcome is the one place where flow outcomes become HTTP responses.
// JSON clients get the redirect target in the body instead of a 302.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out Outcome) {
	if out.Cookie != nil {
		http.SetCookie(w, out.Cookie)
	}
	switch out.Kind {
	case OutcomeError:
		writeError(w, out.Err)
	case OutcomeRedirect:
		if isJSONRequest(r) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "redirect": out.Location})
			return
		}
		http.Redirect(w, r, out.Location, http.StatusFound)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": out.Message})
	}
}

func writeResult(w http.ResponseWriter, result Result) {
	if !result.OK() {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": result.Message})
}

func writeError(w http.ResponseWriter, err *AuthError) {
	body := map[string]any{
		"error": err.Message,
		"code":  err.Code,
	}
	if err.Field != "" {
		body["field"] = err.Field
	}
	if err.Kind == KindRateLimited {
		body["remainingSeconds"] = err.RemainingSeconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", err.RemainingSeconds))
	}
	writeJSON(w, err.StatusCode(), body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// parseForm reads string fields from an urlencoded, multipart or JSON body
func parseForm(r *http.Request) (map[string]string, *AuthError) {
	out := make(map[string]string)
	if isJSONRequest(r) {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, ValidationError("parse_error", "Invalid post body", "")
		}
		for k, v := range data {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out, nil
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, ValidationError("parse_error", "Error parsing form", "")
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, ValidationError("parse_error", "Error parsing form", "")
	}
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	return out, nil
}
