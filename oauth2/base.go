package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	pl "github.com/panyam/passlink"
)

// HandleUserFunc receives the profile of a user the provider authenticated.
// It owns the response from then on.
type HandleUserFunc func(w http.ResponseWriter, r *http.Request, profile pl.OAuthProfile)

// ProfileParser turns a provider's userinfo JSON into a profile
type ProfileParser func(info map[string]any) (pl.OAuthProfile, error)

// Provider runs the authorization-code flow against one OAuth2 provider.
// Mounted under a prefix, it serves the redirect at "/" and the provider
// callback at "/callback".
type Provider struct {
	Name        string
	UserInfoURL string

	// EmailsURL lists the account's emails when the userinfo response hides
	// them. Only GitHub sets it.
	EmailsURL string

	// AuthFailureURL is where the browser goes when the exchange or the
	// userinfo lookup fails. Defaults to "/login?error=oauth".
	AuthFailureURL string

	// HTTPClient is used for the token exchange and userinfo calls.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	HandleUser HandleUserFunc
	Logger     *zap.Logger

	oauthConfig  oauth2.Config
	parseProfile ProfileParser

	// fillProfile can complete a parsed profile with extra API calls
	fillProfile func(ctx context.Context, p *Provider, token *oauth2.Token, profile *pl.OAuthProfile) error

	mux *http.ServeMux
}

// NewProvider creates a provider for an arbitrary OAuth2 endpoint
func NewProvider(name string, config oauth2.Config, userInfoURL string, parse ProfileParser, handleUser HandleUserFunc) *Provider {
	out := &Provider{
		Name:           name,
		UserInfoURL:    userInfoURL,
		AuthFailureURL: "/login?error=oauth",
		HandleUser:     handleUser,
		Logger:         zap.NewNop(),
		oauthConfig:    config,
		parseProfile:   parse,
		mux:            http.NewServeMux(),
	}
	out.mux.HandleFunc("/callback", out.handleCallback)
	out.mux.HandleFunc("/callback/", out.handleCallback)
	out.mux.HandleFunc("/", OauthRedirector(&out.oauthConfig))
	return out
}

// Config returns the underlying oauth2 configuration
func (p *Provider) Config() *oauth2.Config {
	return &p.oauthConfig
}

// SetEndpoint overrides the provider's authorization and token URLs
func (p *Provider) SetEndpoint(endpoint oauth2.Endpoint) {
	p.oauthConfig.Endpoint = endpoint
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// exchangeContext carries the injected client into x/oauth2
func (p *Provider) exchangeContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
}

func (p *Provider) handleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie(stateCookieName)
	if oauthState == nil {
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		clearStateCookie(w)
		http.Error(w, fmt.Sprintf("invalid oauth %s state", p.Name), http.StatusBadRequest)
		return
	}
	clearStateCookie(w)

	profile, err := p.resolve(r.Context(), r.FormValue("code"))
	if err != nil {
		p.Logger.Info("oauth callback failed, redirecting",
			zap.String("provider", p.Name), zap.Error(err))
		http.Redirect(w, r, p.AuthFailureURL, http.StatusTemporaryRedirect)
		return
	}
	p.HandleUser(w, r, profile)
}

func (p *Provider) resolve(ctx context.Context, code string) (pl.OAuthProfile, error) {
	token, err := p.oauthConfig.Exchange(p.exchangeContext(ctx), code)
	if err != nil {
		return pl.OAuthProfile{}, fmt.Errorf("code exchange: %w", err)
	}
	info, err := p.getJSON(ctx, token, p.UserInfoURL)
	if err != nil {
		return pl.OAuthProfile{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(info, &fields); err != nil {
		return pl.OAuthProfile{}, fmt.Errorf("failed to parse user info: %w", err)
	}
	profile, err := p.parseProfile(fields)
	if err != nil {
		return pl.OAuthProfile{}, err
	}
	profile.Provider = p.Name
	if p.fillProfile != nil {
		if err := p.fillProfile(ctx, p, token, &profile); err != nil {
			return pl.OAuthProfile{}, err
		}
	}
	return profile, nil
}

func (p *Provider) getJSON(ctx context.Context, token *oauth2.Token, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from %s: %w", p.Name, err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", p.Name, response.StatusCode, strings.TrimSpace(string(contents)))
	}
	return contents, nil
}

func stringField(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	}
	return ""
}

func boolField(info map[string]any, key string) bool {
	v, _ := info[key].(bool)
	return v
}
